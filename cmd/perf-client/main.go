package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// PerfResult gathers aggregated metrics for the test run.
// Atomic counters are used to avoid lock‑contention on hot paths.
// LatencySum & P95Latency are in nanoseconds.
//
// P95Latency is maintained via a lightweight reservoir sampler.
type PerfResult struct {
	TotalRequests int64
	SuccessCount  int64
	RejectedCount int64
	ErrorCount    int64
	LatencySum    int64
	P95Latency    int64
}

const (
	fixedWorkers   = 50
	fixedRPSTarget = 700
	fixedDuration  = 30 * time.Second
	defaultTimeout = 30 * time.Second
	fixedStock     = 1000
)

func main() {
	// ─── Fixed Configuration ─────────────────────────────────────
	baseURL := os.Getenv("PERF_BASE_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}
	rps := fixedRPSTarget
	duration := fixedDuration
	workers := fixedWorkers
	stock := int64(fixedStock)

	// ─── HTTP Client & Transport ─────────────────────────────────
	transport := &http.Transport{
		MaxIdleConns:        workers * 4,
		MaxIdleConnsPerHost: workers * 4,
		IdleConnTimeout:     90 * time.Second,
	}
	httpClient := &http.Client{
		Transport: transport,
		Timeout:   defaultTimeout,
	}

	// ─── Event handling ──────────────────────────────────────────
	eventID := fmt.Sprintf("perf-%d", time.Now().Unix())
	if err := createEvent(httpClient, baseURL, eventID, stock); err != nil {
		fmt.Fprintf(os.Stderr, "failed to create event: %v\n", err)
		os.Exit(1)
	}
	if err := initializeStock(httpClient, baseURL, eventID, stock); err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize stock: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("✅ 새 이벤트 생성됨: %s (%d개 쿠폰)\n", eventID, stock)

	// ─── Banner ──────────────────────────────────────────────────
	fmt.Println("==========================================")
	fmt.Println("🚀 Go 고성능 부하 테스트 클라이언트 (uniform)")
	fmt.Println("==========================================")
	fmt.Printf("이벤트 ID  : %s\n", eventID)
	fmt.Printf("RPS   : %d\n", rps)
	fmt.Printf("테스트 시간: %v\n", duration)
	fmt.Println("==========================================")

	// ─── Rate limiter & context ─────────────────────────────────
	burst := rps / workers
	if burst < 1 {
		burst = 1
	}
	limiter := rate.NewLimiter(rate.Limit(rps), burst)

	ctx, cancel := context.WithTimeout(context.Background(), duration)
	defer cancel()

	var result PerfResult
	var userSeq int64
	var wg sync.WaitGroup

	// latencyChan collects latencies for P95 estimation.
	latencyChan := make(chan time.Duration, 4096)
	go trackP95(latencyChan, &result)

	// ─── Workers ────────────────────────────────────────────────
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				if err := limiter.Wait(ctx); err != nil { // context cancelled → exit
					return
				}
				userID := fmt.Sprintf("perf-user-%d", atomic.AddInt64(&userSeq, 1))
				doRequest(httpClient, baseURL, eventID, userID, &result, latencyChan)
			}
		}()
	}

	start := time.Now()
	<-ctx.Done() // wait for duration

	// ─── Cleanup ────────────────────────────────────────────────
	wg.Wait()
	close(latencyChan)

	totalDur := time.Since(start)

	// ─── Report ─────────────────────────────────────────────────
	fmt.Println("==========================================")
	fmt.Println("📊 성능 테스트 결과")
	fmt.Println("==========================================")
	fmt.Printf("테스트 시간        : %.2f초\n", totalDur.Seconds())
	fmt.Printf("총 요청 수         : %d\n", result.TotalRequests)
	fmt.Printf("발급 성공          : %d\n", result.SuccessCount)
	fmt.Printf("거절된 요청        : %d\n", result.RejectedCount)
	fmt.Printf("실패한 요청        : %d\n", result.ErrorCount)

	actualRPS := float64(result.TotalRequests) / totalDur.Seconds()
	successRate := float64(result.TotalRequests-result.ErrorCount) / float64(result.TotalRequests) * 100

	var avgLatency time.Duration
	if n := result.TotalRequests - result.ErrorCount; n > 0 {
		avgLatency = time.Duration(result.LatencySum / n)
	}

	fmt.Printf("실제 RPS           : %.2f\n", actualRPS)
	fmt.Printf("성공률             : %.2f%%\n", successRate)
	fmt.Printf("평균 레이턴시      : %v\n", avgLatency)
	fmt.Printf("P95 레이턴시       : %v\n", time.Duration(result.P95Latency))

	fmt.Printf("⚠️  현재 성능: %.2f RPS\n", actualRPS)

	fmt.Println("==========================================")

	// ─── Data Consistency Check ─────────────────────────────────
	fmt.Println("==========================================")
	fmt.Println("🔍 데이터 정합성 검증")
	fmt.Println("==========================================")

	if err := verifyDataConsistency(httpClient, baseURL, eventID, stock, result.SuccessCount); err != nil {
		fmt.Printf("❌ 정합성 검증 실패: %v\n", err)
	} else {
		fmt.Println("✅ 데이터 정합성 확인 완료")
	}
	fmt.Println("==========================================")
}

// createEvent registers the campaign metadata for the test event.
func createEvent(httpClient *http.Client, baseURL, eventID string, stock int64) error {
	body, _ := json.Marshal(map[string]interface{}{
		"event_id":    eventID,
		"event_name":  "perf test event",
		"description": "load generator campaign",
		"total_stock": stock,
		"start_time":  time.Now().UTC(),
		"end_time":    time.Now().UTC().Add(24 * time.Hour),
	})

	resp, err := httpClient.Post(baseURL+"/api/v1/admin/events", "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create event request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("create event returned %d", resp.StatusCode)
	}
	return nil
}

// initializeStock seeds the in-memory counter; safe to re-run.
func initializeStock(httpClient *http.Client, baseURL, eventID string, stock int64) error {
	url := fmt.Sprintf("%s/api/v1/admin/events/%s/stock?initial_stock=%d", baseURL, eventID, stock)
	resp, err := httpClient.Post(url, "application/json", nil)
	if err != nil {
		return fmt.Errorf("initialize stock request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("initialize stock returned %d", resp.StatusCode)
	}
	return nil
}

type issueResponse struct {
	Success  bool   `json:"success"`
	CouponID string `json:"coupon_id"`
	Reason   string `json:"reason"`
}

// doRequest performs a single issue call and collects metrics.
func doRequest(httpClient *http.Client, baseURL, eventID, userID string, result *PerfResult, latencyChan chan<- time.Duration) {
	// Use independent context to avoid cancellation when test ends
	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()

	body, _ := json.Marshal(map[string]string{"user_id": userID, "event_id": eventID})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		baseURL+"/api/v1/coupons/issue", bytes.NewReader(body))
	if err != nil {
		atomic.AddInt64(&result.ErrorCount, 1)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	atomic.AddInt64(&result.TotalRequests, 1)

	resp, err := httpClient.Do(req)
	latency := time.Since(start)

	if err != nil {
		atomic.AddInt64(&result.ErrorCount, 1)
		return
	}
	defer resp.Body.Close()

	var out issueResponse
	if resp.StatusCode != http.StatusOK || json.NewDecoder(resp.Body).Decode(&out) != nil {
		atomic.AddInt64(&result.ErrorCount, 1)
		return
	}

	if out.Success {
		atomic.AddInt64(&result.SuccessCount, 1)
	} else {
		atomic.AddInt64(&result.RejectedCount, 1)
	}
	atomic.AddInt64(&result.LatencySum, latency.Nanoseconds())
	select {
	case latencyChan <- latency:
	default:
	}
}

// trackP95 maintains a best‑effort rolling P95 latency estimation.
func trackP95(latencies <-chan time.Duration, result *PerfResult) {
	const size = 1000
	buf := make([]int64, 0, size)

	for lat := range latencies {
		if len(buf) < size {
			buf = append(buf, lat.Nanoseconds())
		} else {
			// Replace random element (simple reservoir sampling)
			if idx := time.Now().UnixNano() % int64(size); idx < int64(size/10) {
				buf[idx] = lat.Nanoseconds()
			}
		}

		// Update P95 periodically
		if len(buf) >= 100 && len(buf)%100 == 0 {
			copyBuf := make([]int64, len(buf))
			copy(copyBuf, buf)
			quickSort(copyBuf)
			p95Index := int(float64(len(copyBuf)) * 0.95)
			if p95Index >= len(copyBuf) {
				p95Index = len(copyBuf) - 1
			}
			atomic.StoreInt64(&result.P95Latency, copyBuf[p95Index])
		}
	}
}

// quickSort sorts the array in ascending order
func quickSort(arr []int64) {
	if len(arr) < 2 {
		return
	}

	left, right := 0, len(arr)-1
	pivot := len(arr) / 2

	arr[pivot], arr[right] = arr[right], arr[pivot]

	for i := range arr {
		if arr[i] < arr[right] {
			arr[left], arr[i] = arr[i], arr[left]
			left++
		}
	}

	arr[left], arr[right] = arr[right], arr[left]

	quickSort(arr[:left])
	quickSort(arr[left+1:])
}

type statusResponse struct {
	EventID           string `json:"event_id"`
	RemainingStock    int64  `json:"remaining_stock"`
	TotalParticipants int64  `json:"total_participants"`
	TotalIssued       int64  `json:"total_issued"`
}

// verifyDataConsistency checks the issued coupon count against the live counters
func verifyDataConsistency(httpClient *http.Client, baseURL, eventID string, totalStock, expectedIssued int64) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		baseURL+"/api/v1/coupons/status/"+eventID, nil)
	if err != nil {
		return fmt.Errorf("failed to build status request: %w", err)
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to get status: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status returned %d", resp.StatusCode)
	}

	var status statusResponse
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return fmt.Errorf("failed to decode status: %w", err)
	}

	actualIssued := totalStock - status.RemainingStock

	fmt.Printf("이벤트 ID          : %s\n", eventID)
	fmt.Printf("전체 쿠폰 수       : %d\n", totalStock)
	fmt.Printf("발급된 쿠폰 (store): %d\n", actualIssued)
	fmt.Printf("발급된 쿠폰 (테스트): %d\n", expectedIssued)
	fmt.Printf("남은 쿠폰 수       : %d\n", status.RemainingStock)
	fmt.Printf("영속화된 쿠폰 (DB) : %d\n", status.TotalIssued)

	if actualIssued != expectedIssued {
		return fmt.Errorf("데이터 불일치: store=%d, 테스트=%d, 차이=%d",
			actualIssued, expectedIssued, actualIssued-expectedIssued)
	}

	// Additional checks
	if actualIssued > totalStock {
		return fmt.Errorf("over-issuance 발생: 발급=%d > 전체=%d", actualIssued, totalStock)
	}

	if status.TotalIssued > actualIssued {
		return fmt.Errorf("DB가 store를 초과: DB=%d > store=%d", status.TotalIssued, actualIssued)
	}

	return nil
}
