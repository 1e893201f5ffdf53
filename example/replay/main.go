// Example: replay scans a block range of a presale directly with the scanner
// and prints every purchase it decodes.
//
// Usage:
//
//	RPC_URL=https://polygon-rpc.com PRESALE_ADDRESS=0x... go run ./example/replay 50000000 50010000
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"strconv"

	"go.uber.org/zap"

	"github.com/hedeqiang/tally"
	"github.com/hedeqiang/tally/aggregate"
	"github.com/hedeqiang/tally/chain/polygon"
	"github.com/hedeqiang/tally/decoder"
	"github.com/hedeqiang/tally/event"
	"github.com/hedeqiang/tally/report"
	"github.com/hedeqiang/tally/scanner"
)

func main() {
	rpcURL := os.Getenv("RPC_URL")
	if rpcURL == "" {
		log.Fatal("RPC_URL environment variable is required")
	}
	presale, err := event.HexToAddress(os.Getenv("PRESALE_ADDRESS"))
	if err != nil {
		log.Fatalf("PRESALE_ADDRESS: %v", err)
	}
	if len(os.Args) != 3 {
		log.Fatal("usage: replay FROM TO")
	}
	from, err := strconv.ParseUint(os.Args[1], 10, 64)
	if err != nil {
		log.Fatal(err)
	}
	to, err := strconv.ParseUint(os.Args[2], 10, 64)
	if err != nil {
		log.Fatal(err)
	}

	logger, _ := zap.NewDevelopment()
	defer logger.Sync()

	dec := decoder.NewABIDecoder()
	topic0, err := dec.RegisterSignature(tally.DefaultEventSignature)
	if err != nil {
		log.Fatal(err)
	}

	src := polygon.New(rpcURL)
	defer src.Close()

	cfg := scanner.DefaultConfig()
	cfg.WindowSize = 2000
	s := scanner.New(src, dec, cfg, scanner.WithLogger(logger))

	res, err := s.Scan(context.Background(), scanner.Request{
		Contract: presale,
		Topic0:   topic0,
		From:     from,
		To:       to,
	})
	if err != nil {
		log.Fatalf("scan: %v (covered %s before failing)", err, res.Covered)
	}

	for i, p := range res.Purchases {
		fmt.Printf("#%d [block %d] buyer=%s paid=%s MATIC tx=%s\n",
			i+1, p.BlockNumber, p.Buyer.Hex(), report.Units(p.NativeAmount, 18), p.TxHash.Hex())
	}

	sum := aggregate.Aggregate(res.Purchases)
	fmt.Printf("Done. %d purchases in %d windows (%d shrinks, %d retries), total %s MATIC\n",
		sum.Count, res.Windows, res.Shrinks, res.Retries, report.Units(sum.Total, 18))
}
