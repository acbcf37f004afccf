// Package chain holds the chain-write boundary: the deterministic binary
// encoding of write actions and the interfaces the settlement layer submits
// payloads through.
package chain

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Encoding layout: 1 version byte, 3-byte action ID, then fixed-width
// big-endian fields in declaration order. Identical inputs always produce
// identical bytes, so the encoder is tested with golden vectors.
const EncodingVersion = 1

// Action IDs.
const (
	ActionLimitOrder    uint32 = 1
	ActionClassTransfer uint32 = 7
)

// Time-in-force codes for limit order actions.
const (
	TifAlo uint8 = 1
	TifGtc uint8 = 2
	TifIoc uint8 = 3
)

// SymbolFieldSize is the fixed byte budget for encoded symbols.
const SymbolFieldSize = 32

// quoteSuffix is stripped from pair symbols before encoding ("HYPE-USD" and
// "HYPE" map to the same field).
const quoteSuffix = "-USD"

var (
	maxUint64  = new(big.Int).SetUint64(^uint64(0))
	maxUint128 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 128), big.NewInt(1))
)

// RangeError reports a numeric field that exceeds its declared bit width.
// Values are never silently truncated.
type RangeError struct {
	Field string
	Bits  int
	Value *big.Int
}

func (e *RangeError) Error() string {
	return fmt.Sprintf("chain: field %s exceeds uint%d bound: %s", e.Field, e.Bits, e.Value)
}

// SymbolError reports a symbol that cannot fit the fixed field.
type SymbolError struct {
	Symbol string
}

func (e *SymbolError) Error() string {
	return fmt.Sprintf("chain: symbol %q exceeds %d-byte field", e.Symbol, SymbolFieldSize)
}

// LimitOrderAction is the chain-write instruction for resting a limit order.
type LimitOrderAction struct {
	Symbol     string
	IsBuy      bool
	LimitPx    uint64 // price raw at the pair's price scale
	Size       uint64 // size raw at the pair's size scale
	ReduceOnly bool
	Tif        uint8
	Cloid      *big.Int // client order ID, uint128
}

// ClassTransferAction moves balance between the wallet's balance classes
// (spot collateral <-> perp margin).
type ClassTransferAction struct {
	Wallet common.Address
	Amount *big.Int // quote raw, uint128
	ToPerp bool
}

// EncodeSymbol maps a pair symbol onto the fixed 32-byte field: uppercase,
// strip the quote suffix, left-pad with zero bytes. The mapping is total and
// reversible for any symbol within the byte budget.
func EncodeSymbol(symbol string) ([SymbolFieldSize]byte, error) {
	var out [SymbolFieldSize]byte
	s := strings.ToUpper(strings.TrimSpace(symbol))
	s = strings.TrimSuffix(s, quoteSuffix)
	if len(s) > SymbolFieldSize {
		return out, &SymbolError{Symbol: symbol}
	}
	copy(out[SymbolFieldSize-len(s):], s)
	return out, nil
}

// DecodeSymbol reverses EncodeSymbol, dropping the zero padding.
func DecodeSymbol(field [SymbolFieldSize]byte) string {
	i := 0
	for i < SymbolFieldSize && field[i] == 0 {
		i++
	}
	return string(field[i:])
}

// Encode serializes the limit order action. All numeric fields are bounds
// checked before a single byte is written.
func (a *LimitOrderAction) Encode() ([]byte, error) {
	sym, err := EncodeSymbol(a.Symbol)
	if err != nil {
		return nil, err
	}
	cloid := a.Cloid
	if cloid == nil {
		cloid = new(big.Int)
	}
	if err := checkUint128("cloid", cloid); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	writeHeader(&buf, ActionLimitOrder)
	buf.Write(sym[:])
	writeBool(&buf, a.IsBuy)
	writeUint64(&buf, a.LimitPx)
	writeUint64(&buf, a.Size)
	writeBool(&buf, a.ReduceOnly)
	buf.WriteByte(a.Tif)
	writeUint128(&buf, cloid)
	return buf.Bytes(), nil
}

// Encode serializes the class transfer action.
func (a *ClassTransferAction) Encode() ([]byte, error) {
	amount := a.Amount
	if amount == nil {
		amount = new(big.Int)
	}
	if err := checkUint128("amount", amount); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	writeHeader(&buf, ActionClassTransfer)
	buf.Write(a.Wallet.Bytes())
	writeUint128(&buf, amount)
	writeBool(&buf, a.ToPerp)
	return buf.Bytes(), nil
}

// CheckUint64 validates v against the 64-bit unsigned bound.
func CheckUint64(field string, v *big.Int) error {
	if v.Sign() < 0 || v.Cmp(maxUint64) > 0 {
		return &RangeError{Field: field, Bits: 64, Value: new(big.Int).Set(v)}
	}
	return nil
}

func checkUint128(field string, v *big.Int) error {
	if v.Sign() < 0 || v.Cmp(maxUint128) > 0 {
		return &RangeError{Field: field, Bits: 128, Value: new(big.Int).Set(v)}
	}
	return nil
}

func writeHeader(buf *bytes.Buffer, actionID uint32) {
	buf.WriteByte(EncodingVersion)
	var id [4]byte
	binary.BigEndian.PutUint32(id[:], actionID)
	buf.Write(id[1:]) // 3-byte action ID
}

func writeUint64(buf *bytes.Buffer, v uint64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	buf.Write(b[:])
}

func writeUint128(buf *bytes.Buffer, v *big.Int) {
	var b [16]byte
	v.FillBytes(b[:])
	buf.Write(b[:])
}

func writeBool(buf *bytes.Buffer, v bool) {
	if v {
		buf.WriteByte(1)
		return
	}
	buf.WriteByte(0)
}
