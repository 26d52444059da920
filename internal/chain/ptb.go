package chain

import (
	"errors"
	"fmt"

	"github.com/mr-tron/base58"
)

const (
	argGasCoin uint8 = iota
	argInput
	argResult
	argNestedResult
)

// Argument references a value inside a programmable transaction.
type Argument struct {
	kind  uint8
	index uint16
	sub   uint16
}

var GasCoin = Argument{kind: argGasCoin}

// Nested selects the i-th value returned by a command.
func (a Argument) Nested(i uint16) Argument {
	return Argument{kind: argNestedResult, index: a.index, sub: i}
}

type callArgKind uint8

const (
	callPure callArgKind = iota
	callOwned
	callShared
)

type callArg struct {
	kind           callArgKind
	pure           []byte
	ref            ObjectRef
	initialVersion uint64
	mutable        bool
}

const (
	cmdMoveCall uint8 = iota
	cmdTransferObjects
	cmdSplitCoins
)

type command struct {
	kind     uint8
	pkg      ID
	module   string
	function string
	typeArgs []TypeTag
	args     []Argument
	target   Argument
}

// ProgrammableTx accumulates inputs and commands. Object inputs are
// de-duplicated by id.
type ProgrammableTx struct {
	inputs   []callArg
	commands []command
	objects  map[ID]uint16
}

func NewProgrammableTx() *ProgrammableTx {
	return &ProgrammableTx{objects: map[ID]uint16{}}
}

func (tx *ProgrammableTx) addInput(arg callArg) Argument {
	tx.inputs = append(tx.inputs, arg)
	return Argument{kind: argInput, index: uint16(len(tx.inputs) - 1)}
}

func (tx *ProgrammableTx) PureU64(v uint64) Argument {
	var w bcsWriter
	w.u64(v)
	return tx.addInput(callArg{kind: callPure, pure: w.Bytes()})
}

// PureID passes an id or address by value.
func (tx *ProgrammableTx) PureID(id ID) Argument {
	b := make([]byte, len(id))
	copy(b, id[:])
	return tx.addInput(callArg{kind: callPure, pure: b})
}

// Object adds obj as an input, shared or owned according to its owner.
func (tx *ProgrammableTx) Object(obj *Object, mutable bool) (Argument, error) {
	if obj == nil {
		return Argument{}, errors.New("nil object input")
	}
	if idx, ok := tx.objects[obj.Ref.ID]; ok {
		if mutable && tx.inputs[idx].kind == callShared {
			tx.inputs[idx].mutable = true
		}
		return Argument{kind: argInput, index: idx}, nil
	}
	var arg callArg
	switch obj.Owner.Kind {
	case OwnerShared:
		arg = callArg{kind: callShared, ref: obj.Ref, initialVersion: obj.Owner.InitialSharedVersion, mutable: mutable}
	case OwnerAddress, OwnerImmutable:
		arg = callArg{kind: callOwned, ref: obj.Ref}
	default:
		return Argument{}, fmt.Errorf("object %s is not directly usable (owner %s)", obj.Ref.ID, obj.Owner.Kind)
	}
	out := tx.addInput(arg)
	tx.objects[obj.Ref.ID] = out.index
	return out, nil
}

func (tx *ProgrammableTx) MoveCall(pkg ID, module, function string, typeArgs []TypeTag, args ...Argument) Argument {
	tx.commands = append(tx.commands, command{
		kind:     cmdMoveCall,
		pkg:      pkg,
		module:   module,
		function: function,
		typeArgs: typeArgs,
		args:     args,
	})
	return Argument{kind: argResult, index: uint16(len(tx.commands) - 1)}
}

func (tx *ProgrammableTx) TransferObjects(objects []Argument, recipient Argument) {
	tx.commands = append(tx.commands, command{kind: cmdTransferObjects, args: objects, target: recipient})
}

// SplitCoins returns the command result; use Nested(i) for the i-th coin.
func (tx *ProgrammableTx) SplitCoins(coin Argument, amounts ...Argument) Argument {
	tx.commands = append(tx.commands, command{kind: cmdSplitCoins, target: coin, args: amounts})
	return Argument{kind: argResult, index: uint16(len(tx.commands) - 1)}
}

func (tx *ProgrammableTx) Commands() int {
	return len(tx.commands)
}

// TxData is a complete transaction ready for signing.
type TxData struct {
	Tx         *ProgrammableTx
	Sender     ID
	GasPayment []ObjectRef
	GasPrice   uint64
	GasBudget  uint64
}

// Bytes serializes TransactionData::V1 with a programmable kind, the sender
// as gas owner and no expiration.
func (d TxData) Bytes() ([]byte, error) {
	if d.Tx == nil || len(d.Tx.commands) == 0 {
		return nil, errors.New("empty transaction")
	}
	if len(d.GasPayment) == 0 {
		return nil, errors.New("no gas payment")
	}
	var w bcsWriter
	w.uleb128(0) // TransactionData::V1
	w.uleb128(0) // TransactionKind::ProgrammableTransaction
	w.uleb128(uint64(len(d.Tx.inputs)))
	for _, in := range d.Tx.inputs {
		if err := writeCallArg(&w, in); err != nil {
			return nil, err
		}
	}
	w.uleb128(uint64(len(d.Tx.commands)))
	for _, cmd := range d.Tx.commands {
		writeCommand(&w, cmd)
	}
	w.id(d.Sender)
	w.uleb128(uint64(len(d.GasPayment)))
	for _, ref := range d.GasPayment {
		if err := writeObjectRef(&w, ref); err != nil {
			return nil, err
		}
	}
	w.id(d.Sender)
	w.u64(d.GasPrice)
	w.u64(d.GasBudget)
	w.uleb128(0) // TransactionExpiration::None
	return w.Bytes(), nil
}

func writeCallArg(w *bcsWriter, in callArg) error {
	switch in.kind {
	case callPure:
		w.uleb128(0)
		w.bytes(in.pure)
	case callOwned:
		w.uleb128(1)
		w.uleb128(0)
		return writeObjectRef(w, in.ref)
	case callShared:
		w.uleb128(1)
		w.uleb128(1)
		w.id(in.ref.ID)
		w.u64(in.initialVersion)
		w.bool(in.mutable)
	}
	return nil
}

func writeObjectRef(w *bcsWriter, ref ObjectRef) error {
	digest, err := base58.Decode(ref.Digest)
	if err != nil || len(digest) != 32 {
		return fmt.Errorf("invalid object digest %q for %s", ref.Digest, ref.ID)
	}
	w.id(ref.ID)
	w.u64(ref.Version)
	w.bytes(digest)
	return nil
}

func writeArgument(w *bcsWriter, a Argument) {
	w.uleb128(uint64(a.kind))
	switch a.kind {
	case argInput, argResult:
		w.u16(a.index)
	case argNestedResult:
		w.u16(a.index)
		w.u16(a.sub)
	}
}

func writeCommand(w *bcsWriter, cmd command) {
	w.uleb128(uint64(cmd.kind))
	switch cmd.kind {
	case cmdMoveCall:
		w.id(cmd.pkg)
		w.str(cmd.module)
		w.str(cmd.function)
		w.uleb128(uint64(len(cmd.typeArgs)))
		for _, t := range cmd.typeArgs {
			w.typeTag(t)
		}
		w.uleb128(uint64(len(cmd.args)))
		for _, a := range cmd.args {
			writeArgument(w, a)
		}
	case cmdTransferObjects:
		w.uleb128(uint64(len(cmd.args)))
		for _, a := range cmd.args {
			writeArgument(w, a)
		}
		writeArgument(w, cmd.target)
	case cmdSplitCoins:
		writeArgument(w, cmd.target)
		w.uleb128(uint64(len(cmd.args)))
		for _, a := range cmd.args {
			writeArgument(w, a)
		}
	}
}
