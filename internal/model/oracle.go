package model

import "time"

// IndexCount is the number of indices assigned to every oracle
const IndexCount = 3

// IndexSet holds an oracle's assigned indices. Duplicates are allowed.
type IndexSet [IndexCount]int

// Contains reports whether index is one of the set's slots
func (s IndexSet) Contains(index int) bool {
	for _, v := range s {
		if v == index {
			return true
		}
	}
	return false
}

// Oracle is a registered reporting identity
type Oracle struct {
	Identity     string    `json:"identity"`
	Indices      IndexSet  `json:"indices"`
	RegisteredAt time.Time `json:"registered_at"`
}
