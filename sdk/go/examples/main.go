package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"time"

	"NeoGas-Relay/sdk/go/neorelay"
)

// 该示例对着一个内置的假 API 服务演示 SDK 的典型调用顺序：
// 先询价，把报价写进意图并签名（这里省略签名），再提交代付。
func main() {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/fees/estimate", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(neorelay.FeeQuote{
			FeeInAsset:    341,
			AssetSymbol:   "NEO",
			AssetDecimals: 0,
			BurnAmount:    170,
			IntentID:      "intent-demo",
			Source:        "flamingo",
		})
	})
	mux.HandleFunc("/api/v1/relays", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			var intent neorelay.TransferIntent
			_ = json.NewDecoder(r.Body).Decode(&intent)
			_ = json.NewEncoder(w).Encode(neorelay.Receipt{
				TxID:       "0x5b3ac10a07f6e8c52b8c177a9a280e07c1b9b05b0f93e64837e4bd3e7c58ab11",
				NetAmount:  intent.GrossAmount - intent.FeeInAsset,
				BurnAmount: 170,
				Status:     "sent",
				IntentID:   intent.IntentID,
			})
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	})
	mux.HandleFunc("/api/v1/confirmations", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(neorelay.Confirmation{
			ID:       "conf-demo",
			TxID:     r.URL.Query().Get("txid"),
			IntentID: "intent-demo",
			Status:   "confirmed",
			Height:   5_499_800,
		})
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()

	client := neorelay.NewClient(srv.URL, srv.Client())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	quote, err := client.EstimateFee(ctx, neorelay.EstimateRequest{Asset: "NEO"})
	if err != nil {
		panic(err)
	}
	fmt.Printf("quoted fee %d (%s), burn %d\n", quote.FeeInAsset, quote.AssetSymbol, quote.BurnAmount)

	receipt, err := client.SubmitIntent(ctx, neorelay.TransferIntent{
		From:        "NXJaKph9Mq6bg8Gu1wa8cUUrmbLDiqThW7",
		To:          "NhGomBpYnKXArr55nHRQ5rzy79TwKVXZbr",
		AssetHash:   "0xd2a4cff31913016155e38e474a2c06d08be276cf",
		GrossAmount: 400_000_000,
		FeeInAsset:  quote.FeeInAsset,
		IntentID:    quote.IntentID,
		Signature:   "c0ffee",
	})
	if err != nil {
		panic(err)
	}
	fmt.Printf("relayed as %s (net=%d, status=%s)\n", receipt.TxID, receipt.NetAmount, receipt.Status)

	conf, err := client.GetConfirmation(ctx, receipt.TxID)
	if err != nil {
		panic(err)
	}
	fmt.Printf("confirmation %s at height %d\n", conf.Status, conf.Height)
}
