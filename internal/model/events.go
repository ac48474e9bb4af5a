package model

import "github.com/shopspring/decimal"

// EventType names an entry in the public event log
type EventType string

const (
	EventOracleRegistered   EventType = "OracleRegistered"
	EventInsurancePurchased EventType = "InsurancePurchased"
	EventStatusRequested    EventType = "StatusRequested"
	EventStatusResolved     EventType = "StatusResolved"
	EventPassengerCredited  EventType = "PassengerCredited"
	EventWithdrawn          EventType = "Withdrawn"
	EventAirlineRegistered  EventType = "AirlineRegistered"
	EventAirlineFunded      EventType = "AirlineFunded"
	EventOperationalChanged EventType = "OperationalChanged"
)

// StatusRequested is broadcast on every status request, new or repeated
type StatusRequested struct {
	Index     int    `json:"index"`
	Airline   string `json:"airline"`
	Flight    string `json:"flight"`
	Timestamp int64  `json:"timestamp"`
}

// Key returns the request key the event refers to
func (e StatusRequested) Key() RequestKey {
	return RequestKey{
		Index:     e.Index,
		FlightKey: FlightKey{Airline: e.Airline, Flight: e.Flight, Timestamp: e.Timestamp},
	}
}

// StatusResolved is emitted once per request resolution
type StatusResolved struct {
	Airline    string     `json:"airline"`
	Flight     string     `json:"flight"`
	Timestamp  int64      `json:"timestamp"`
	StatusCode StatusCode `json:"status_code"`
}

type OracleRegistered struct {
	Identity string   `json:"identity"`
	Indices  IndexSet `json:"indices"`
}

type InsurancePurchased struct {
	PurchaseID string          `json:"purchase_id"`
	Passenger  string          `json:"passenger"`
	Airline    string          `json:"airline"`
	Flight     string          `json:"flight"`
	Timestamp  int64           `json:"timestamp"`
	Premium    decimal.Decimal `json:"premium"`
}

type PassengerCredited struct {
	PurchaseID string          `json:"purchase_id"`
	Passenger  string          `json:"passenger"`
	Amount     decimal.Decimal `json:"amount"`
}

type Withdrawn struct {
	Identity string          `json:"identity"`
	Amount   decimal.Decimal `json:"amount"`
}

type AirlineRegistered struct {
	Airline      string `json:"airline"`
	RegisteredBy string `json:"registered_by"`
}

type AirlineFunded struct {
	Airline string          `json:"airline"`
	Amount  decimal.Decimal `json:"amount"`
}

// ChainInfo identifies a running contract. Instance changes on every restart;
// Start is the log sequence the instance began at, so earlier entries belong
// to a previous instance.
type ChainInfo struct {
	Instance string `json:"instance"`
	Start    uint64 `json:"start"`
	Head     uint64 `json:"head"`
}

type OperationalChanged struct {
	Operational bool   `json:"operational"`
	ChangedBy   string `json:"changed_by"`
}
