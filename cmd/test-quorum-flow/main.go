// Test program that walks one policy through a running surety server:
// fund, buy, request status, answer from index holders, withdraw.
package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ppiankov/surety/internal/api"
	"github.com/ppiankov/surety/internal/model"
	"github.com/shopspring/decimal"
)

const (
	endpoint  = "http://localhost:3000"
	airlineID = "airline-1"
	passenger = "passenger-demo"
	oracles   = 20
)

func main() {
	fmt.Println("=== Surety Quorum Flow Test ===")
	fmt.Println()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := run(ctx, api.NewClient(endpoint, "", 10*time.Second, 0)); err != nil {
		fmt.Printf("  ✗ %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, c *api.Client) error {
	flight := model.FlightKey{Airline: airlineID, Flight: "ND1309", Timestamp: time.Now().Unix()}

	step("Funding " + airlineID)
	if _, err := c.As(airlineID).FundAirline(ctx, airlineID, decimal.NewFromInt(10)); err != nil {
		fmt.Printf("  (already funded? %v)\n", err)
	}

	step("Registering oracles")
	fee, err := c.RegistrationFee(ctx)
	if err != nil {
		return err
	}
	holders := make(map[int][]string)
	for i := 0; i < oracles; i++ {
		id := fmt.Sprintf("demo-oracle-%02d", i)
		indices, err := c.RegisterOracle(ctx, id, fee)
		if err != nil {
			if indices, err = c.OracleIndices(ctx, id); err != nil {
				return err
			}
		}
		seen := make(map[int]bool)
		for _, idx := range indices {
			if !seen[idx] {
				holders[idx] = append(holders[idx], id)
				seen[idx] = true
			}
		}
	}
	fmt.Printf("  ✓ %d oracles, fee %s\n", oracles, fee)

	step("Buying insurance on " + flight.String())
	p, err := c.As(passenger).PurchaseInsurance(ctx, flight, decimal.NewFromInt(1))
	if err != nil {
		return err
	}
	fmt.Printf("  ✓ purchase %s, premium %s\n", p.ID, p.Premium)

	step("Requesting flight status")
	key, err := c.RequestStatus(ctx, flight)
	if err != nil {
		return err
	}
	fmt.Printf("  ✓ request %s, %d oracles hold index %d\n", key, len(holders[key.Index]), key.Index)

	step("Submitting responses")
	for _, id := range holders[key.Index] {
		out, err := c.SubmitResponse(ctx, model.Response{RequestKey: key, Status: model.StatusLateAirlineFault, Identity: id})
		if err != nil {
			fmt.Printf("  - %s: %v\n", id, err)
			continue
		}
		fmt.Printf("  ✓ %s: tally %d\n", id, out.Tally)
		if out.Resolved {
			fmt.Printf("  ✓ resolved with status %d\n", out.Status)
			if out.Report != nil {
				fmt.Printf("    credited %d, paid %s\n", out.Report.Credited, out.Report.Paid)
			}
			break
		}
	}

	step("Withdrawing payout")
	balance, err := c.Balance(ctx, passenger)
	if err != nil {
		return err
	}
	if balance.IsZero() {
		fmt.Println("  ⚠️  nothing to withdraw, quorum was not reached")
		return nil
	}
	left, err := c.As(passenger).Withdraw(ctx, balance)
	if err != nil {
		return err
	}
	fmt.Printf("  ✓ withdrew %s, balance now %s\n", balance, left)
	return nil
}

func step(title string) {
	fmt.Println(title)
	fmt.Println(strings.Repeat("-", 60))
}
