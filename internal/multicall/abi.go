package multicall

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

const multicall3ABI = `[{"inputs":[{"components":[{"internalType":"address","name":"target","type":"address"},` +
	`{"internalType":"bool","name":"allowFailure","type":"bool"},{"internalType":"bytes","name":"callData","type":"bytes"}],` +
	`"internalType":"struct Multicall3.Call3[]","name":"calls","type":"tuple[]"}],"name":"aggregate3",` +
	`"outputs":[{"components":[{"internalType":"bool","name":"success","type":"bool"},` +
	`{"internalType":"bytes","name":"returnData","type":"bytes"}],"internalType":"struct Multicall3.Result[]",` +
	`"name":"returnData","type":"tuple[]"}],"stateMutability":"payable","type":"function"}]`

const aggregate3 = "aggregate3"

var multicallABI = mustParseABI(multicall3ABI)

// call3 mirrors the Multicall3.Call3 struct.
type call3 struct {
	Target       common.Address
	AllowFailure bool
	CallData     []byte
}

// result3 mirrors the Multicall3.Result struct.
type result3 struct {
	Success    bool
	ReturnData []byte
}

func mustParseABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(fmt.Sprintf("invalid multicall ABI: %v", err))
	}
	return parsed
}

// NewMethod builds a view method from a signature like "balanceOf(address)" and its
// return types. A return is either "type" or "type name"; unnamed returns are named
// out0, out1, ... in Call.Returns. Tuple types are not supported.
func NewMethod(signature string, returns ...string) (abi.Method, error) {
	open := strings.IndexByte(signature, '(')
	if open <= 0 || !strings.HasSuffix(signature, ")") {
		return abi.Method{}, fmt.Errorf("invalid method signature %q", signature)
	}

	name := strings.TrimSpace(signature[:open])
	params := strings.TrimSpace(signature[open+1 : len(signature)-1])

	var inputs abi.Arguments
	if params != "" {
		for i, p := range strings.Split(params, ",") {
			arg, err := newArgument(strings.TrimSpace(p), fmt.Sprintf("arg%d", i))
			if err != nil {
				return abi.Method{}, fmt.Errorf("method %s input %d: %w", name, i, err)
			}
			inputs = append(inputs, arg)
		}
	}

	outputs := make(abi.Arguments, 0, len(returns))
	for i, r := range returns {
		arg, err := newArgument(strings.TrimSpace(r), fmt.Sprintf("out%d", i))
		if err != nil {
			return abi.Method{}, fmt.Errorf("method %s output %d: %w", name, i, err)
		}
		outputs = append(outputs, arg)
	}

	return abi.NewMethod(name, name, abi.Function, "view", true, false, inputs, outputs), nil
}

// MustMethod is like NewMethod but panics on error.
func MustMethod(signature string, returns ...string) abi.Method {
	m, err := NewMethod(signature, returns...)
	if err != nil {
		panic(err)
	}
	return m
}

func newArgument(decl, defaultName string) (abi.Argument, error) {
	fields := strings.Fields(decl)
	if len(fields) == 0 || len(fields) > 2 {
		return abi.Argument{}, fmt.Errorf("invalid argument %q", decl)
	}
	if strings.HasPrefix(fields[0], "(") || strings.HasPrefix(fields[0], "tuple") {
		return abi.Argument{}, fmt.Errorf("tuple argument %q is not supported", decl)
	}

	typ, err := abi.NewType(fields[0], "", nil)
	if err != nil {
		return abi.Argument{}, err
	}

	name := defaultName
	if len(fields) == 2 {
		name = fields[1]
	}

	return abi.Argument{Name: name, Type: typ}, nil
}
