package ast

type BinaryOp int

const (
	// Comparison operators
	OpEq BinaryOp = iota
	OpNeq
	OpLt
	OpLte
	OpGt
	OpGte

	// Logical operators
	OpAnd
	OpOr

	// String operators
	OpLike
	OpILike

	// Set membership
	OpIn
	OpNotIn
)

type UnaryOp int

const (
	OpNot UnaryOp = iota
	OpIsNull
	OpIsNotNull
)

type OrderDirection int

const (
	OrderAsc OrderDirection = iota
	OrderDesc
)

// OrderByColumn represents an ORDER BY column with direction
type OrderByColumn struct {
	Column    string
	Direction OrderDirection
}

// Assignment is a single "column = value" pair of an UPDATE
type Assignment struct {
	Column string
	Value  string
}
