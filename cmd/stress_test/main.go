package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	"github.com/rl1809/sweet-shop/internal/adapter/handler"
	"github.com/rl1809/sweet-shop/pkg/clients/sweetshop"
)

type outcome int

const (
	succeeded outcome = iota
	rejected
	failed
)

func main() {
	mode := flag.String("mode", "http", "transport to exercise: http or grpc")
	httpAddr := flag.String("http", "http://localhost:8080", "REST base URL")
	grpcAddr := flag.String("grpc", "localhost:50051", "gRPC address")
	username := flag.String("user", "admin", "username to log in with")
	password := flag.String("password", "admin123", "password")
	itemID := flag.Int64("item", 1, "sweet id to buy")
	totalRequests := flag.Int("requests", 50, "number of concurrent single-unit purchases")
	flag.Parse()

	ctx := context.Background()

	client := sweetshop.NewClient(*httpAddr)
	if _, err := client.Login(ctx, *username, *password); err != nil {
		log.Fatalf("failed to log in: %v", err)
	}

	before, err := client.GetSweet(ctx, *itemID)
	if err != nil {
		log.Fatalf("failed to read item %d: %v", *itemID, err)
	}

	var purchase func(ctx context.Context) outcome
	switch *mode {
	case "http":
		purchase = func(ctx context.Context) outcome {
			_, err := client.Purchase(ctx, *itemID, 1)
			var apiErr *sweetshop.APIError
			switch {
			case err == nil:
				return succeeded
			case errors.As(err, &apiErr) && apiErr.Code == "insufficient_stock":
				return rejected
			default:
				return failed
			}
		}
	case "grpc":
		conn, err := grpc.NewClient(*grpcAddr, grpc.WithTransportCredentials(insecure.NewCredentials()))
		if err != nil {
			log.Fatalf("failed to connect grpc: %v", err)
		}
		defer conn.Close()

		token, err := client.Token(ctx, *username, *password)
		if err != nil {
			log.Fatalf("failed to log in: %v", err)
		}
		inventory := handler.NewInventoryClient(conn)
		purchase = func(ctx context.Context) outcome {
			qty := 1
			_, err := inventory.Purchase(handler.WithToken(ctx, token), &handler.PurchaseRPCRequest{ItemID: *itemID, Quantity: &qty})
			switch status.Code(err) {
			case codes.OK:
				return succeeded
			case codes.FailedPrecondition:
				return rejected
			default:
				return failed
			}
		}
	default:
		log.Fatalf("unknown mode %q", *mode)
	}

	// Counters
	var successCount, rejectCount, failCount atomic.Int32

	// Spawn concurrent requests
	var wg sync.WaitGroup
	start := time.Now()

	for i := 0; i < *totalRequests; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			switch purchase(ctx) {
			case succeeded:
				successCount.Add(1)
			case rejected:
				rejectCount.Add(1)
			default:
				failCount.Add(1)
			}
		}()
	}

	wg.Wait()
	elapsed := time.Since(start)

	after, err := client.GetSweet(ctx, *itemID)
	if err != nil {
		log.Fatalf("failed to read item %d: %v", *itemID, err)
	}

	// Results
	success := int(successCount.Load())
	reject := int(rejectCount.Load())
	fail := int(failCount.Load())

	fmt.Println("========== STRESS TEST RESULTS ==========")
	fmt.Printf("Mode:             %s\n", *mode)
	fmt.Printf("Initial Stock:    %d\n", before.Quantity)
	fmt.Printf("Total Requests:   %d\n", *totalRequests)
	fmt.Printf("Successful:       %d\n", success)
	fmt.Printf("Out of stock:     %d\n", reject)
	fmt.Printf("Errors:           %d\n", fail)
	fmt.Printf("Final Stock:      %d\n", after.Quantity)
	fmt.Printf("Duration:         %v\n", elapsed)
	fmt.Println("==========================================")

	// Assertions
	expected := min(before.Quantity, *totalRequests)
	if success == expected && reject == *totalRequests-expected && fail == 0 {
		fmt.Printf("PASS: exactly %d purchases succeeded, %d rejected\n", expected, *totalRequests-expected)
	} else {
		fmt.Printf("FAIL: expected %d success/%d rejected, got %d/%d (%d errors)\n",
			expected, *totalRequests-expected, success, reject, fail)
	}

	if after.Quantity == before.Quantity-success {
		fmt.Println("PASS: stock conserved")
	} else {
		fmt.Printf("FAIL: expected stock %d, got %d\n", before.Quantity-success, after.Quantity)
	}
}

