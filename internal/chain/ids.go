package chain

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrInvalidObjectID = errors.New("invalid object id")
	ErrInvalidType     = errors.New("invalid type tag")
)

// ID is a 32-byte ledger identifier. Object ids and account addresses share
// the same representation.
type ID [32]byte

type (
	ObjectID = ID
	Address  = ID
)

var ZeroAddress ID

// ParseID accepts `0x` followed by exactly 64 hex digits. A bare 64-digit
// value is accepted and normalized.
func ParseID(raw string) (ID, error) {
	s := strings.TrimSpace(raw)
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		s = s[2:]
	}
	if len(s) != 64 {
		return ID{}, fmt.Errorf("%w: %q", ErrInvalidObjectID, raw)
	}
	var id ID
	if _, err := hex.Decode(id[:], []byte(s)); err != nil {
		return ID{}, fmt.Errorf("%w: %q", ErrInvalidObjectID, raw)
	}
	return id, nil
}

// ParseShortID also accepts the abbreviated form used for framework
// objects and packages, e.g. `0x2` or `0x6`.
func ParseShortID(raw string) (ID, error) {
	s := strings.TrimSpace(raw)
	if !strings.HasPrefix(s, "0x") && !strings.HasPrefix(s, "0X") {
		return ParseID(s)
	}
	s = s[2:]
	if s == "" || len(s) > 64 {
		return ID{}, fmt.Errorf("%w: %q", ErrInvalidObjectID, raw)
	}
	return ParseID(strings.Repeat("0", 64-len(s)) + s)
}

func MustID(raw string) ID {
	id, err := ParseShortID(raw)
	if err != nil {
		panic(err)
	}
	return id
}

func (id ID) String() string {
	return "0x" + hex.EncodeToString(id[:])
}

func (id ID) IsZero() bool {
	return id == ZeroAddress
}

func (id ID) MarshalJSON() ([]byte, error) {
	return json.Marshal(id.String())
}

func (id *ID) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	parsed, err := ParseShortID(s)
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// SameID compares two textual ids after normalization. Malformed values never match.
func SameID(a, b string) bool {
	x, err := ParseShortID(a)
	if err != nil {
		return false
	}
	y, err := ParseShortID(b)
	if err != nil {
		return false
	}
	return x == y
}

type TypeKind uint8

const (
	KindBool TypeKind = iota
	KindU8
	KindU64
	KindU128
	KindAddress
	KindSigner
	KindVector
	KindStruct
	KindU16
	KindU32
	KindU256
)

var primitiveKinds = map[string]TypeKind{
	"bool":    KindBool,
	"u8":      KindU8,
	"u16":     KindU16,
	"u32":     KindU32,
	"u64":     KindU64,
	"u128":    KindU128,
	"u256":    KindU256,
	"address": KindAddress,
	"signer":  KindSigner,
}

// TypeTag is a parsed move type.
type TypeTag struct {
	Kind   TypeKind
	Elem   *TypeTag
	Struct *StructTag
}

// StructTag is a parsed `package::module::Name<params>` triple.
type StructTag struct {
	Address    ID
	Module     string
	Name       string
	TypeParams []TypeTag
}

// ParseStructTag parses a struct type. Short package addresses (`0x2`) are
// expanded.
func ParseStructTag(raw string) (StructTag, error) {
	tag, err := ParseTypeTag(raw)
	if err != nil {
		return StructTag{}, err
	}
	if tag.Kind != KindStruct || tag.Struct == nil {
		return StructTag{}, fmt.Errorf("%w: %q is not a struct", ErrInvalidType, raw)
	}
	return *tag.Struct, nil
}

// ParseCollectionType is the strict form used for user supplied collection
// types: the package address must be written out in full.
func ParseCollectionType(raw string) (StructTag, error) {
	s := strings.TrimSpace(raw)
	head := s
	if i := strings.Index(head, "::"); i >= 0 {
		head = head[:i]
	}
	if _, err := ParseID(head); err != nil || !strings.HasPrefix(head, "0x") {
		return StructTag{}, fmt.Errorf("%w: %q", ErrInvalidType, raw)
	}
	return ParseStructTag(s)
}

func ParseTypeTag(raw string) (TypeTag, error) {
	p := &typeParser{src: strings.TrimSpace(raw)}
	tag, err := p.parse()
	if err != nil {
		return TypeTag{}, fmt.Errorf("%w: %q: %v", ErrInvalidType, raw, err)
	}
	if p.pos != len(p.src) {
		return TypeTag{}, fmt.Errorf("%w: %q: trailing input", ErrInvalidType, raw)
	}
	return tag, nil
}

func (t TypeTag) String() string {
	switch t.Kind {
	case KindVector:
		if t.Elem == nil {
			return "vector<>"
		}
		return "vector<" + t.Elem.String() + ">"
	case KindStruct:
		if t.Struct == nil {
			return ""
		}
		return t.Struct.String()
	}
	for name, kind := range primitiveKinds {
		if kind == t.Kind {
			return name
		}
	}
	return ""
}

func (s StructTag) String() string {
	var b strings.Builder
	b.WriteString(s.Address.String())
	b.WriteString("::")
	b.WriteString(s.Module)
	b.WriteString("::")
	b.WriteString(s.Name)
	if len(s.TypeParams) > 0 {
		b.WriteString("<")
		for i, p := range s.TypeParams {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(p.String())
		}
		b.WriteString(">")
	}
	return b.String()
}

// Is reports whether s names pkg::module::name, ignoring type parameters.
func (s StructTag) Is(pkg ID, module, name string) bool {
	return s.Address == pkg && s.Module == module && s.Name == name
}

func (s StructTag) Equal(o StructTag) bool {
	return s.String() == o.String()
}

func (s StructTag) TypeTag() TypeTag {
	c := s
	return TypeTag{Kind: KindStruct, Struct: &c}
}

type typeParser struct {
	src string
	pos int
}

func (p *typeParser) parse() (TypeTag, error) {
	p.skipSpace()
	start := p.pos
	for p.pos < len(p.src) && isIdentByte(p.src[p.pos]) {
		p.pos++
	}
	word := p.src[start:p.pos]
	if word == "" {
		return TypeTag{}, errors.New("empty type")
	}
	if word == "vector" {
		if err := p.expect('<'); err != nil {
			return TypeTag{}, err
		}
		elem, err := p.parse()
		if err != nil {
			return TypeTag{}, err
		}
		if err := p.expect('>'); err != nil {
			return TypeTag{}, err
		}
		return TypeTag{Kind: KindVector, Elem: &elem}, nil
	}
	if kind, ok := primitiveKinds[word]; ok {
		return TypeTag{Kind: kind}, nil
	}
	addr, err := ParseShortID(word)
	if err != nil {
		return TypeTag{}, err
	}
	module, err := p.pathSegment()
	if err != nil {
		return TypeTag{}, err
	}
	name, err := p.pathSegment()
	if err != nil {
		return TypeTag{}, err
	}
	st := StructTag{Address: addr, Module: module, Name: name}
	p.skipSpace()
	if p.pos < len(p.src) && p.src[p.pos] == '<' {
		p.pos++
		for {
			param, err := p.parse()
			if err != nil {
				return TypeTag{}, err
			}
			st.TypeParams = append(st.TypeParams, param)
			p.skipSpace()
			if p.pos < len(p.src) && p.src[p.pos] == ',' {
				p.pos++
				continue
			}
			if err := p.expect('>'); err != nil {
				return TypeTag{}, err
			}
			break
		}
	}
	return TypeTag{Kind: KindStruct, Struct: &st}, nil
}

func (p *typeParser) pathSegment() (string, error) {
	if !strings.HasPrefix(p.src[p.pos:], "::") {
		return "", errors.New("expected ::")
	}
	p.pos += 2
	start := p.pos
	for p.pos < len(p.src) && isIdentByte(p.src[p.pos]) {
		p.pos++
	}
	if start == p.pos {
		return "", errors.New("empty path segment")
	}
	return p.src[start:p.pos], nil
}

func (p *typeParser) expect(ch byte) error {
	p.skipSpace()
	if p.pos >= len(p.src) || p.src[p.pos] != ch {
		return fmt.Errorf("expected %q", ch)
	}
	p.pos++
	return nil
}

func (p *typeParser) skipSpace() {
	for p.pos < len(p.src) && p.src[p.pos] == ' ' {
		p.pos++
	}
}

func isIdentByte(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}
