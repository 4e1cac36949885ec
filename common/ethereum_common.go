package common

import (
	"encoding/json"
	"fmt"

	ethereumCommon "github.com/ethereum/go-ethereum/common"
)

const (
	HashLength    = ethereumCommon.HashLength
	AddressLength = ethereumCommon.AddressLength
)

// Hash is a custom type based on Ethereum's common.Hash
type Hash ethereumCommon.Hash

// Address is a custom type based on Ethereum's common.Address
type Address ethereumCommon.Address

// Bytes returns the byte representation of the hash.
func (h Hash) Bytes() []byte {
	return ethereumCommon.Hash(h).Bytes()
}

// String returns the string representation of the hash.
func (h Hash) String() string {
	return ethereumCommon.Hash(h).String()
}

func (h Hash) String_short() string {
	return fmt.Sprintf("%s..%s", h.Hex()[2:6], h.Hex()[62:66])
}

// Hex returns the hexadecimal string representation of the hash.
func (h Hash) Hex() string {
	return ethereumCommon.Hash(h).Hex()
}

// BytesToHash converts a byte slice to a Hash.
func BytesToHash(b []byte) Hash {
	return Hash(ethereumCommon.BytesToHash(b))
}

// HexToHash converts a hexadecimal string to a Hash.
func HexToHash(s string) Hash {
	return Hash(ethereumCommon.HexToHash(s))
}

func Bytes2Hex(d []byte) string {
	return "0x" + ethereumCommon.Bytes2Hex(d)
}

func FromHex(b string) []byte {
	return ethereumCommon.FromHex(b)
}

// MarshalJSON custom marshaler to convert Hash to hex string.
func (h Hash) MarshalJSON() ([]byte, error) {
	return json.Marshal(h.Hex())
}

// UnmarshalJSON custom unmarshaler to handle hex strings for Hash.
func (h *Hash) UnmarshalJSON(data []byte) error {
	var hexStr string
	if err := json.Unmarshal(data, &hexStr); err != nil {
		return err
	}
	*h = HexToHash(hexStr)
	return nil
}

// Address methods

// Bytes returns the byte representation of the address.
func (a Address) Bytes() []byte {
	return ethereumCommon.Address(a).Bytes()
}

// String returns the string representation of the address.
func (a Address) String() string {
	return ethereumCommon.Address(a).String()
}

// Hex returns the hexadecimal string representation of the address.
func (a Address) Hex() string {
	return ethereumCommon.Address(a).Hex()
}

// HexToAddress converts a hexadecimal string to an Address.
func HexToAddress(s string) Address {
	return Address(ethereumCommon.HexToAddress(s))
}

// BytesToAddress converts a byte slice to an Address.
func BytesToAddress(b []byte) Address {
	return Address(ethereumCommon.BytesToAddress(b))
}

// IsHexAddress reports whether s is a 20-byte hex address, with or without 0x.
func IsHexAddress(s string) bool {
	return ethereumCommon.IsHexAddress(s)
}

// MarshalJSON custom marshaler to convert Address to hex string.
func (a Address) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.Hex())
}

// UnmarshalJSON custom unmarshaler to handle hex strings for Address.
func (a *Address) UnmarshalJSON(data []byte) error {
	var hexStr string
	if err := json.Unmarshal(data, &hexStr); err != nil {
		return err
	}
	if hexStr != "" && !IsHexAddress(hexStr) {
		return fmt.Errorf("invalid address %q", hexStr)
	}
	*a = HexToAddress(hexStr)
	return nil
}

// MarshalText lets addresses be used as yaml scalars.
func (a Address) MarshalText() ([]byte, error) {
	return []byte(a.Hex()), nil
}

func (a *Address) UnmarshalText(text []byte) error {
	s := string(text)
	if s != "" && !IsHexAddress(s) {
		return fmt.Errorf("invalid address %q", s)
	}
	*a = HexToAddress(s)
	return nil
}

// DevAccount returns one of the well-known local devnet accounts by index.
func DevAccount(index int) Address {
	addresses := []Address{
		HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"),
		HexToAddress("0x70997970C51812dc3A010C7d01b50e0d17dc79C8"),
		HexToAddress("0x3C44CdDdB6a900fa2b585dd299e03d12FA4293BC"),
		HexToAddress("0x90F79bf6EB2c4f870365E785982E1f101E93b906"),
		HexToAddress("0x15d34AAf54267DB7D7c367839AAf71A00a2C6A65"),
	}
	return addresses[index%len(addresses)]
}
