package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync"
	"time"

	"abada_sales/internal/middleware"
)

// Result 记录单次请求的 HTTP 结果，便于聚合统计。
type Result struct {
	Status int
	Body   string
	Err    error
}

type itemView struct {
	ID        uint   `json:"id"`
	Type      string `json:"type"`
	Quantity  int    `json:"quantity"`
	Delivered int    `json:"delivered"`
	Remaining int    `json:"remaining"`
}

type entitlementView struct {
	ID     string     `json:"id"`
	Status string     `json:"status"`
	Items  []itemView `json:"items"`
}

func main() {
	baseURL := flag.String("base", "http://localhost:8080", "server base url")
	token := flag.String("token", "", "redemption token to hammer")
	secret := flag.String("jwt-secret", os.Getenv("STAFF_JWT_SECRET"), "staff jwt secret used to sign the test token")
	staffID := flag.String("staff", "loadtest", "staff id recorded as actor")

	// 超发测试参数：N 个请求并发核销同一明细，每个 1 件
	n := flag.Int("n", 200, "concurrent redeem requests")
	concurrency := flag.Int("c", 50, "max concurrency")
	rateN := flag.Int("rate-n", 100, "resolve requests for the rate limit test (0 to skip)")
	flag.Parse()

	if *token == "" || *secret == "" {
		fmt.Fprintln(os.Stderr, "both -token and -jwt-secret are required")
		os.Exit(2)
	}
	bearer, err := middleware.IssueStaffToken(*secret, *staffID, time.Hour)
	if err != nil {
		panic(fmt.Sprintf("issue staff token: %v", err))
	}

	client := &http.Client{Timeout: 5 * time.Second}

	before, err := resolve(client, *baseURL, *token)
	if err != nil {
		panic(fmt.Sprintf("resolve failed: %v", err))
	}
	if len(before.Items) == 0 {
		panic("entitlement has no items")
	}
	item := before.Items[0]
	fmt.Printf("entitlement=%s status=%s item=%d quantity=%d delivered=%d\n",
		before.ID, before.Status, item.ID, item.Quantity, item.Delivered)

	// 1) 不超发测试：同一明细并发核销
	fmt.Printf("start over-delivery test: requests=%d concurrency=%d\n", *n, *concurrency)
	results := runRedeem(client, *baseURL, bearer, *token, item.ID, *n, *concurrency)
	printSummary("over_delivery", results)

	after, err := resolve(client, *baseURL, *token)
	if err != nil {
		fmt.Println("resolve after test err:", err)
	} else {
		for _, it := range after.Items {
			if it.ID != item.ID {
				continue
			}
			fmt.Printf("final: delivered=%d quantity=%d status=%s\n", it.Delivered, it.Quantity, after.Status)
			if it.Delivered > it.Quantity {
				fmt.Println("OVER-DELIVERED")
				os.Exit(1)
			}
			if ok := count(results, http.StatusOK); ok != item.Remaining {
				fmt.Printf("expected %d successful redeems, got %d\n", item.Remaining, ok)
			}
		}
	}

	// 2) 限流测试：同一客户端重复查询 token（超过 TOKEN_RATE_LIMIT 后应出现 429）
	if *rateN > 0 {
		fmt.Printf("\nstart rate limit test: %d resolve requests, concurrency %d\n", *rateN, *concurrency)
		results2 := runResolve(client, *baseURL, *token, *rateN, *concurrency)
		printSummary("rate_limit", results2)
	}
}

func runRedeem(client *http.Client, baseURL, bearer, token string, itemID uint, total, concurrency int) []Result {
	type claim struct {
		ItemID   uint `json:"itemId"`
		Quantity int  `json:"quantity"`
	}
	body := map[string]any{"token": token, "claims": []claim{{ItemID: itemID, Quantity: 1}}}
	headers := map[string]string{"Authorization": "Bearer " + bearer}
	return fanOut(total, concurrency, func() Result {
		return postOnce(client, baseURL+"/token/redeem", body, headers)
	})
}

func runResolve(client *http.Client, baseURL, token string, total, concurrency int) []Result {
	body := map[string]string{"token": token}
	return fanOut(total, concurrency, func() Result {
		return postOnce(client, baseURL+"/token/resolve", body, nil)
	})
}

func fanOut(total, concurrency int, fn func() Result) []Result {
	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup
	results := make([]Result, total)

	for i := 0; i < total; i++ {
		wg.Add(1)
		sem <- struct{}{}
		go func(idx int) {
			defer wg.Done()
			defer func() { <-sem }()
			results[idx] = fn()
		}(i)
	}

	wg.Wait()
	return results
}

func postOnce(client *http.Client, url string, body any, headers map[string]string) Result {
	b, _ := json.Marshal(body)
	httpReq, _ := http.NewRequest(http.MethodPost, url, bytes.NewReader(b))
	httpReq.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		return Result{Err: err}
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	return Result{Status: resp.StatusCode, Body: string(raw)}
}

func resolve(client *http.Client, baseURL, token string) (*entitlementView, error) {
	r := postOnce(client, baseURL+"/token/resolve", map[string]string{"token": token}, nil)
	if r.Err != nil {
		return nil, r.Err
	}
	if r.Status >= 300 {
		return nil, fmt.Errorf("status=%d body=%s", r.Status, r.Body)
	}
	var out struct {
		Code int             `json:"code"`
		Data entitlementView `json:"data"`
	}
	if err := json.Unmarshal([]byte(r.Body), &out); err != nil {
		return nil, err
	}
	return &out.Data, nil
}

func count(results []Result, status int) int {
	n := 0
	for _, r := range results {
		if r.Err == nil && r.Status == status {
			n++
		}
	}
	return n
}

// printSummary 聚合输出不同状态码分布。
func printSummary(name string, results []Result) {
	counts := map[int]int{}
	errCount := 0
	for _, r := range results {
		if r.Err != nil {
			errCount++
			continue
		}
		counts[r.Status]++
	}
	fmt.Printf("[%s] http status summary:\n", name)
	for _, code := range []int{200, 400, 401, 404, 409, 429, 500, 503} {
		if counts[code] > 0 {
			fmt.Printf("  %d -> %d\n", code, counts[code])
		}
	}
	if errCount > 0 {
		fmt.Printf("  errors -> %d\n", errCount)
	}
}
