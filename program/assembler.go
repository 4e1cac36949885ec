package program

import (
	"fmt"
	"math/big"
	"strings"
)

// Assemble turns mnemonic source into bytecode. Tokens are separated by
// whitespace or commas; ';' and '#' start a comment. Supported forms:
//
//	PUSH1 0x42       fixed width push, operand in hex or decimal
//	PUSH 300         smallest push that fits the operand
//	loop:            label definition (emits nothing)
//	PUSH @loop       two byte push of a label's pc
//	.byte 0x0c       raw byte
func Assemble(src string) ([]byte, error) {
	toks := tokenize(src)

	// first pass sizes every instruction so labels resolve
	labels := make(map[string]uint64)
	var pc uint64
	for i := 0; i < len(toks); i++ {
		tok := toks[i]
		if strings.HasSuffix(tok, ":") {
			labels[strings.TrimSuffix(tok, ":")] = pc
			continue
		}
		size, consumed, err := sizeOf(toks, i)
		if err != nil {
			return nil, err
		}
		pc += size
		i += consumed
	}

	var code []byte
	for i := 0; i < len(toks); i++ {
		tok := toks[i]
		if strings.HasSuffix(tok, ":") {
			continue
		}
		upper := strings.ToUpper(tok)
		switch {
		case upper == ".BYTE":
			v, err := parseOperand(toks[i+1], labels)
			if err != nil {
				return nil, err
			}
			if v.BitLen() > 8 {
				return nil, fmt.Errorf(".byte operand %s does not fit a byte", toks[i+1])
			}
			code = append(code, byte(v.Uint64()))
			i++
		case upper == "PUSH":
			v, err := parseOperand(toks[i+1], labels)
			if err != nil {
				return nil, err
			}
			n := (v.BitLen() + 7) / 8
			if strings.HasPrefix(toks[i+1], "@") {
				if n > 2 {
					return nil, fmt.Errorf("label %s beyond 16-bit pc", toks[i+1])
				}
				n = 2
			}
			if n == 0 {
				code = append(code, byte(PUSH0))
			} else {
				code = append(code, byte(PUSH1)+byte(n-1))
				code = append(code, v.FillBytes(make([]byte, n))...)
			}
			i++
		default:
			op, ok := StringToOp(upper)
			if !ok {
				return nil, fmt.Errorf("unknown mnemonic %q", tok)
			}
			code = append(code, byte(op))
			if n := op.ImmediateSize(); n > 0 {
				v, err := parseOperand(toks[i+1], labels)
				if err != nil {
					return nil, err
				}
				if (v.BitLen()+7)/8 > n {
					return nil, fmt.Errorf("%s operand %s exceeds %d bytes", op, toks[i+1], n)
				}
				code = append(code, v.FillBytes(make([]byte, n))...)
				i++
			}
		}
	}
	return code, nil
}

// MustAssemble is Assemble for fixed sources; it panics on error.
func MustAssemble(src string) []byte {
	code, err := Assemble(src)
	if err != nil {
		panic(err)
	}
	return code
}

func tokenize(src string) []string {
	var toks []string
	for _, line := range strings.Split(src, "\n") {
		if i := strings.IndexAny(line, ";#"); i >= 0 {
			line = line[:i]
		}
		toks = append(toks, strings.FieldsFunc(line, func(r rune) bool {
			return r == ' ' || r == '\t' || r == ',' || r == '\r'
		})...)
	}
	return toks
}

// sizeOf returns the encoded size of the instruction at toks[i] and how many
// operand tokens it consumes.
func sizeOf(toks []string, i int) (uint64, int, error) {
	upper := strings.ToUpper(toks[i])
	needsOperand := upper == ".BYTE" || upper == "PUSH"
	op, ok := StringToOp(upper)
	if !needsOperand && !ok {
		return 0, 0, fmt.Errorf("unknown mnemonic %q", toks[i])
	}
	if ok && op.ImmediateSize() > 0 {
		needsOperand = true
	}
	if !needsOperand {
		return 1, 0, nil
	}
	if i+1 >= len(toks) {
		return 0, 0, fmt.Errorf("%s needs an operand", toks[i])
	}
	switch upper {
	case ".BYTE":
		return 1, 1, nil
	case "PUSH":
		if strings.HasPrefix(toks[i+1], "@") {
			return 3, 1, nil
		}
		v, err := parseOperand(toks[i+1], nil)
		if err != nil {
			return 0, 0, err
		}
		return 1 + uint64((v.BitLen()+7)/8), 1, nil
	}
	return 1 + uint64(op.ImmediateSize()), 1, nil
}

func parseOperand(tok string, labels map[string]uint64) (*big.Int, error) {
	if strings.HasPrefix(tok, "@") {
		if labels == nil {
			return big.NewInt(0), nil
		}
		pc, ok := labels[tok[1:]]
		if !ok {
			return nil, fmt.Errorf("undefined label %q", tok[1:])
		}
		return new(big.Int).SetUint64(pc), nil
	}
	v, ok := new(big.Int).SetString(tok, 0)
	if !ok || v.Sign() < 0 {
		return nil, fmt.Errorf("invalid operand %q", tok)
	}
	if v.BitLen() > 256 {
		return nil, fmt.Errorf("operand %q exceeds 256 bits", tok)
	}
	return v, nil
}
