package model

import "fmt"

// FlightKey identifies one scheduled flight of an airline
type FlightKey struct {
	Airline   string `json:"airline"`
	Flight    string `json:"flight"`
	Timestamp int64  `json:"timestamp"`
}

func (k FlightKey) String() string {
	return fmt.Sprintf("%s/%s@%d", k.Airline, k.Flight, k.Timestamp)
}

// RequestKey identifies a status request: a flight sharded to one index
type RequestKey struct {
	Index int `json:"index"`
	FlightKey
}

func (k RequestKey) String() string {
	return fmt.Sprintf("%d:%s", k.Index, k.FlightKey.String())
}

// RequestState is the lifecycle state of a status request
type RequestState string

const (
	RequestOpen     RequestState = "open"
	RequestResolved RequestState = "resolved"
)

// Response is one oracle submission against a request
type Response struct {
	RequestKey
	Status   StatusCode `json:"status_code"`
	Identity string     `json:"identity"`
}

// RequestView is a read-only snapshot of a status request
type RequestView struct {
	Key            RequestKey              `json:"key"`
	State          RequestState            `json:"state"`
	Responses      map[StatusCode][]string `json:"responses"`
	ResolvedStatus *StatusCode             `json:"resolved_status,omitempty"`
}
