package domain

import "time"

type Operation string

const (
	OpInsert Operation = "INSERT"
	OpUpdate Operation = "UPDATE"
	OpDelete Operation = "DELETE"
	OpAll    Operation = "*"
)

func ParseOperation(s string) (Operation, bool) {
	switch Operation(s) {
	case OpInsert, OpUpdate, OpDelete, OpAll:
		return Operation(s), true
	}
	return "", false
}

// ChangeEvent is one row-level change from the feed. It is consumed once and discarded.
type ChangeEvent struct {
	Operation  Operation
	OrderID    string
	New        *Order
	Old        *Order
	ReceivedAt time.Time
}
