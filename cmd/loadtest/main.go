package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"math"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

const (
	idempotencyHeader = "Idempotency-Key"
	defaultItemPrice  = int64(3500)
	defaultQty        = int32(1)
)

type loadMode string

const (
	modeSubmit       loadMode = "submit"
	modeSubmitAccept loadMode = "submit-accept"
	modeSubmitCancel loadMode = "submit-cancel"
)

type config struct {
	baseURL     string
	storeID     string
	total       int
	totalSet    bool
	duration    time.Duration
	concurrency int
	timeout     time.Duration
	mode        loadMode
	cancelRate  int
	itemName    string
	itemPrice   int64
	userTag     string
	outputPath  string
}

type latencySummary struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
	Avg float64 `json:"avg"`
	P50 float64 `json:"p50"`
	P95 float64 `json:"p95"`
	P99 float64 `json:"p99"`
}

type callReport struct {
	Calls     int64            `json:"calls"`
	Success   int64            `json:"success"`
	Failed    int64            `json:"failed"`
	ErrorRate float64          `json:"error_rate"`
	Codes     map[string]int64 `json:"codes"`
	LatencyMs latencySummary   `json:"latency_ms"`
}

type report struct {
	StartedAt         time.Time             `json:"started_at"`
	DurationSeconds   float64               `json:"duration_seconds"`
	TotalScenarios    int64                 `json:"total_scenarios"`
	SuccessScenarios  int64                 `json:"success_scenarios"`
	FailedScenarios   int64                 `json:"failed_scenarios"`
	ErrorRate         float64               `json:"error_rate"`
	RPS               float64               `json:"rps"`
	ScenarioLatencyMs latencySummary        `json:"scenario_latency_ms"`
	Calls             map[string]callReport `json:"calls"`
	Numbering         numberingReport       `json:"numbering"`
}

// numberingReport показывает, остались ли выданные номера заказов без дыр.
type numberingReport struct {
	Checked    bool  `json:"checked"`
	Count      int64 `json:"count"`
	MinSeq     int64 `json:"min_seq"`
	MaxSeq     int64 `json:"max_seq"`
	Duplicates int64 `json:"duplicates"`
	Gaps       int64 `json:"gaps"`
}

type callStats struct {
	calls     int64
	success   int64
	failed    int64
	codes     map[string]int64
	latencies []float64
}

type collector struct {
	mu    sync.Mutex
	calls map[string]*callStats
	seqs  []int64
}

func newCollector() *collector {
	return &collector{calls: make(map[string]*callStats)}
}

func (c *collector) record(name string, latency time.Duration, status int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats, ok := c.calls[name]
	if !ok {
		stats = &callStats{codes: make(map[string]int64)}
		c.calls[name] = stats
	}

	stats.calls++
	if status >= 200 && status < 300 {
		stats.success++
	} else {
		stats.failed++
	}
	stats.codes[fmt.Sprintf("%d", status)]++
	stats.latencies = append(stats.latencies, float64(latency.Microseconds())/1000.0)
}

func (c *collector) recordSeq(seq int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seqs = append(c.seqs, seq)
}

func (c *collector) buildReport(startedAt time.Time, duration time.Duration, checkNumbering bool) report {
	c.mu.Lock()
	defer c.mu.Unlock()

	result := report{
		StartedAt:       startedAt.UTC(),
		DurationSeconds: duration.Seconds(),
		Calls:           make(map[string]callReport, len(c.calls)),
	}

	scenarioStats := c.calls["scenario"]
	if scenarioStats != nil {
		result.TotalScenarios = scenarioStats.calls
		result.SuccessScenarios = scenarioStats.success
		result.FailedScenarios = scenarioStats.failed
		result.ErrorRate = ratio(scenarioStats.failed, scenarioStats.calls)
		result.ScenarioLatencyMs = buildLatencySummary(scenarioStats.latencies)
	}
	if duration > 0 {
		result.RPS = float64(result.TotalScenarios) / duration.Seconds()
	}

	for name, stats := range c.calls {
		codesCopy := make(map[string]int64, len(stats.codes))
		for code, count := range stats.codes {
			codesCopy[code] = count
		}
		result.Calls[name] = callReport{
			Calls:     stats.calls,
			Success:   stats.success,
			Failed:    stats.failed,
			ErrorRate: ratio(stats.failed, stats.calls),
			Codes:     codesCopy,
			LatencyMs: buildLatencySummary(stats.latencies),
		}
	}

	if checkNumbering {
		result.Numbering = buildNumberingReport(c.seqs)
	}

	return result
}

// buildNumberingReport проверяет выданные порядковые номера на дубли и дыры.
func buildNumberingReport(seqs []int64) numberingReport {
	result := numberingReport{Checked: true, Count: int64(len(seqs))}
	if len(seqs) == 0 {
		return result
	}

	sorted := make([]int64, len(seqs))
	copy(sorted, seqs)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	result.MinSeq = sorted[0]
	result.MaxSeq = sorted[len(sorted)-1]
	for i := 1; i < len(sorted); i++ {
		switch delta := sorted[i] - sorted[i-1]; {
		case delta == 0:
			result.Duplicates++
		case delta > 1:
			result.Gaps += delta - 1
		}
	}
	return result
}

type submitOrderRequest struct {
	UserID     string      `json:"user_id"`
	Items      []orderItem `json:"items"`
	TotalPrice int64       `json:"total_price"`
}

type orderItem struct {
	Name  string `json:"name"`
	Price int64  `json:"price"`
	Qty   int32  `json:"qty"`
}

type orderResponse struct {
	ID      string `json:"id"`
	Number  string `json:"order_number"`
	Seq     int64  `json:"seq"`
	Version int64  `json:"version"`
}

type changeStatusRequest struct {
	Status  string `json:"status"`
	Version int64  `json:"version"`
	Reason  string `json:"reason"`
}

type createStoreRequest struct {
	Name string `json:"name"`
}

type storeResponse struct {
	ID string `json:"id"`
}

// orderAPI описывает вызовы сервиса, которые выполняет нагрузочный сценарий.
type orderAPI interface {
	CreateStore(name string) (string, error)
	SubmitOrder(storeID, key string, req submitOrderRequest) (orderResponse, int, error)
	ChangeStatus(storeID, orderID, key string, req changeStatusRequest) (int, error)
}

type httpOrderAPI struct {
	baseURL string
	client  *http.Client
}

func newHTTPOrderAPI(baseURL string, timeout time.Duration) *httpOrderAPI {
	return &httpOrderAPI{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

func (a *httpOrderAPI) CreateStore(name string) (string, error) {
	body, status, err := a.do(http.MethodPost, "/stores", "", createStoreRequest{Name: name})
	if err != nil {
		return "", err
	}
	if status != http.StatusCreated {
		return "", fmt.Errorf("create store returned status %d: %s", status, string(body))
	}

	var store storeResponse
	if err := json.Unmarshal(body, &store); err != nil {
		return "", fmt.Errorf("decode store response: %w", err)
	}
	if store.ID == "" {
		return "", errors.New("create store returned empty id")
	}
	return store.ID, nil
}

func (a *httpOrderAPI) SubmitOrder(storeID, key string, req submitOrderRequest) (orderResponse, int, error) {
	body, status, err := a.do(http.MethodPost, "/stores/"+storeID+"/orders", key, req)
	if err != nil {
		return orderResponse{}, 0, err
	}
	if status != http.StatusCreated {
		return orderResponse{}, status, fmt.Errorf("submit order returned status %d: %s", status, string(body))
	}

	var order orderResponse
	if err := json.Unmarshal(body, &order); err != nil {
		return orderResponse{}, status, fmt.Errorf("decode order response: %w", err)
	}
	return order, status, nil
}

func (a *httpOrderAPI) ChangeStatus(storeID, orderID, key string, req changeStatusRequest) (int, error) {
	body, status, err := a.do(http.MethodPatch, "/stores/"+storeID+"/orders/"+orderID+"/status", key, req)
	if err != nil {
		return 0, err
	}
	if status != http.StatusOK {
		return status, fmt.Errorf("change status returned status %d: %s", status, string(body))
	}
	return status, nil
}

func (a *httpOrderAPI) do(method, path, key string, payload any) ([]byte, int, error) {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, 0, fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequest(method, a.baseURL+path, bytes.NewReader(encoded))
	if err != nil {
		return nil, 0, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set(idempotencyHeader, key)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("read response body: %w", err)
	}
	return body, resp.StatusCode, nil
}

func parseConfig() (config, error) {
	var cfg config
	var modeValue string

	flag.StringVar(&cfg.baseURL, "addr", "http://localhost:8080", "base URL of the order service API")
	flag.StringVar(&cfg.storeID, "store", "", "existing store id; empty creates a fresh store for the run")
	flag.IntVar(&cfg.total, "total", 400, "total scenarios to execute in count mode; in duration mode only used when explicitly set")
	flag.DurationVar(&cfg.duration, "duration", 0, "optional time-based run duration (e.g. 10m)")
	flag.IntVar(&cfg.concurrency, "concurrency", 40, "number of concurrent workers")
	flag.DurationVar(&cfg.timeout, "timeout", 5*time.Second, "per-request timeout")
	flag.StringVar(&modeValue, "mode", string(modeSubmit), "load mode: submit | submit-accept | submit-cancel")
	flag.IntVar(&cfg.cancelRate, "cancel-rate", 0, "cancel probability in percent for submit-accept mode (0..100)")
	flag.StringVar(&cfg.itemName, "item-name", "참치김밥", "order item name")
	flag.Int64Var(&cfg.itemPrice, "item-price", defaultItemPrice, "order item price")
	flag.StringVar(&cfg.userTag, "user-tag", "load", "user id prefix")
	flag.StringVar(&cfg.outputPath, "output", "", "optional JSON report output file path")
	flag.Parse()

	flag.CommandLine.Visit(func(f *flag.Flag) {
		if f.Name == "total" {
			cfg.totalSet = true
		}
	})

	mode, err := parseMode(modeValue)
	if err != nil {
		return cfg, err
	}
	cfg.mode = mode

	if strings.TrimSpace(cfg.baseURL) == "" {
		return cfg, errors.New("addr is required")
	}
	if cfg.duration < 0 {
		return cfg, errors.New("duration must be >= 0")
	}
	if cfg.duration == 0 && cfg.total <= 0 {
		return cfg, errors.New("total must be > 0 when duration is not set")
	}
	if cfg.concurrency <= 0 {
		return cfg, errors.New("concurrency must be > 0")
	}
	if cfg.timeout <= 0 {
		return cfg, errors.New("timeout must be > 0")
	}
	if cfg.itemPrice <= 0 {
		return cfg, errors.New("item-price must be > 0")
	}
	if cfg.cancelRate < 0 || cfg.cancelRate > 100 {
		return cfg, errors.New("cancel-rate must be between 0 and 100")
	}
	if strings.TrimSpace(cfg.itemName) == "" {
		return cfg, errors.New("item-name is required")
	}
	if strings.TrimSpace(cfg.userTag) == "" {
		return cfg, errors.New("user-tag is required")
	}

	return cfg, nil
}

func parseMode(value string) (loadMode, error) {
	switch loadMode(strings.TrimSpace(value)) {
	case modeSubmit:
		return modeSubmit, nil
	case modeSubmitAccept:
		return modeSubmitAccept, nil
	case modeSubmitCancel:
		return modeSubmitCancel, nil
	default:
		return "", fmt.Errorf("unsupported mode: %s", value)
	}
}

func main() {
	cfg, err := parseConfig()
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	api := newHTTPOrderAPI(cfg.baseURL, cfg.timeout)

	result, err := runLoad(api, cfg)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "load test failed: %v\n", err)
		os.Exit(1)
	}

	printReport(result, cfg)
	if cfg.outputPath != "" {
		if err := writeJSONReport(cfg.outputPath, result); err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "failed to write report: %v\n", err)
			os.Exit(1)
		}
	}

	if result.FailedScenarios > 0 || result.Numbering.Duplicates > 0 {
		os.Exit(1)
	}
}

func runLoad(api orderAPI, cfg config) (report, error) {
	startedAt := time.Now()
	runID := fmt.Sprintf("%d-%d", startedAt.UnixNano(), os.Getpid())

	// Свежий магазин даёт чистую последовательность номеров и позволяет
	// проверить её на дыры после прогона.
	freshStore := cfg.storeID == ""
	storeID := cfg.storeID
	if freshStore {
		created, err := api.CreateStore(fmt.Sprintf("loadtest-%s", runID))
		if err != nil {
			return report{}, fmt.Errorf("create load-test store: %w", err)
		}
		storeID = created
	}

	col := newCollector()
	jobs := make(chan int, cfg.concurrency*2)
	var failures int64
	var wg sync.WaitGroup

	for workerID := 0; workerID < cfg.concurrency; workerID++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for id := range jobs {
				if err := runScenario(api, cfg, storeID, id, runID, col); err != nil {
					atomic.AddInt64(&failures, 1)
				}
			}
		}()
	}

	dispatchJobs(jobs, cfg)
	wg.Wait()

	duration := time.Since(startedAt)
	result := col.buildReport(startedAt, duration, freshStore)
	if result.FailedScenarios == 0 && failures > 0 {
		result.FailedScenarios = failures
		result.ErrorRate = ratio(result.FailedScenarios, result.TotalScenarios)
	}
	return result, nil
}

func dispatchJobs(jobs chan<- int, cfg config) {
	defer close(jobs)

	if cfg.duration <= 0 {
		for i := 0; i < cfg.total; i++ {
			jobs <- i
		}
		return
	}

	timer := time.NewTimer(cfg.duration)
	defer timer.Stop()

	for i := 0; ; i++ {
		if cfg.totalSet && i >= cfg.total {
			return
		}

		select {
		case <-timer.C:
			return
		case jobs <- i:
		}
	}
}

func runScenario(api orderAPI, cfg config, storeID string, index int, runID string, col *collector) error {
	scenarioStart := time.Now()
	scenarioStatus := http.StatusOK
	defer func() {
		col.record("scenario", time.Since(scenarioStart), scenarioStatus)
	}()

	submitReq := submitOrderRequest{
		UserID: fmt.Sprintf("%s-%s-%d", cfg.userTag, runID, index),
		Items: []orderItem{{
			Name:  cfg.itemName,
			Price: cfg.itemPrice,
			Qty:   defaultQty,
		}},
		TotalPrice: cfg.itemPrice * int64(defaultQty),
	}

	submitKey := fmt.Sprintf("lt-submit-%s-%d", runID, index)
	start := time.Now()
	order, status, err := api.SubmitOrder(storeID, submitKey, submitReq)
	col.record("SubmitOrder", time.Since(start), statusOrError(status, err))
	if err != nil {
		scenarioStatus = statusOrError(status, err)
		return err
	}
	if order.ID == "" {
		scenarioStatus = http.StatusInternalServerError
		return errors.New("submit response returned empty order id")
	}
	col.recordSeq(order.Seq)

	if cfg.mode == modeSubmit {
		return nil
	}

	if cfg.mode == modeSubmitAccept {
		acceptKey := fmt.Sprintf("lt-accept-%s-%d", runID, index)
		start = time.Now()
		status, err = api.ChangeStatus(storeID, order.ID, acceptKey, changeStatusRequest{
			Status:  "received",
			Version: order.Version,
		})
		col.record("AcceptOrder", time.Since(start), statusOrError(status, err))
		if err != nil {
			scenarioStatus = statusOrError(status, err)
			return err
		}
		order.Version++
	}

	if cfg.mode == modeSubmitCancel || (cfg.mode == modeSubmitAccept && shouldCancelScenario(index, cfg.cancelRate)) {
		cancelKey := fmt.Sprintf("lt-cancel-%s-%d", runID, index)
		start = time.Now()
		status, err = api.ChangeStatus(storeID, order.ID, cancelKey, changeStatusRequest{
			Status:  "canceled",
			Version: order.Version,
			Reason:  "load-cancel",
		})
		col.record("CancelOrder", time.Since(start), statusOrError(status, err))
		if err != nil {
			scenarioStatus = statusOrError(status, err)
			return err
		}
	}

	return nil
}

func statusOrError(status int, err error) int {
	if status != 0 {
		return status
	}
	if err != nil {
		return http.StatusInternalServerError
	}
	return http.StatusOK
}

func shouldCancelScenario(index, cancelRate int) bool {
	if cancelRate <= 0 {
		return false
	}
	if cancelRate >= 100 {
		return true
	}
	return index%100 < cancelRate
}

func writeJSONReport(path string, result report) error {
	cleanPath := filepath.Clean(path)
	if cleanPath == "." || cleanPath == string(filepath.Separator) {
		return errors.New("output path must point to a file")
	}
	if cleanPath == ".." || strings.HasPrefix(cleanPath, ".."+string(filepath.Separator)) {
		return fmt.Errorf("output path must be inside current directory: %s", path)
	}

	// #nosec G304 -- path is an explicit CLI output parameter for local load-test reports.
	file, err := os.Create(cleanPath)
	if err != nil {
		return err
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	return encoder.Encode(result)
}

func printReport(result report, cfg config) {
	fmt.Println("Load test summary")
	fmt.Printf("mode=%s total=%d success=%d failed=%d error_rate=%.4f\n",
		cfg.mode,
		result.TotalScenarios,
		result.SuccessScenarios,
		result.FailedScenarios,
		result.ErrorRate,
	)
	fmt.Printf("duration=%.2fs rps=%.2f\n", result.DurationSeconds, result.RPS)
	fmt.Printf("scenario latency ms: min=%.2f avg=%.2f p50=%.2f p95=%.2f p99=%.2f max=%.2f\n",
		result.ScenarioLatencyMs.Min,
		result.ScenarioLatencyMs.Avg,
		result.ScenarioLatencyMs.P50,
		result.ScenarioLatencyMs.P95,
		result.ScenarioLatencyMs.P99,
		result.ScenarioLatencyMs.Max,
	)

	if result.Numbering.Checked {
		fmt.Printf("numbering: count=%d min_seq=%d max_seq=%d duplicates=%d gaps=%d\n",
			result.Numbering.Count,
			result.Numbering.MinSeq,
			result.Numbering.MaxSeq,
			result.Numbering.Duplicates,
			result.Numbering.Gaps,
		)
	}

	callNames := make([]string, 0, len(result.Calls))
	for name := range result.Calls {
		if name == "scenario" {
			continue
		}
		callNames = append(callNames, name)
	}
	sort.Strings(callNames)
	for _, name := range callNames {
		stats := result.Calls[name]
		fmt.Printf(
			"%s: calls=%d success=%d failed=%d error_rate=%.4f p95=%.2fms\n",
			name,
			stats.Calls,
			stats.Success,
			stats.Failed,
			stats.ErrorRate,
			stats.LatencyMs.P95,
		)
	}
}

func buildLatencySummary(values []float64) latencySummary {
	if len(values) == 0 {
		return latencySummary{}
	}

	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	var sum float64
	for _, value := range sorted {
		sum += value
	}

	return latencySummary{
		Min: sorted[0],
		Max: sorted[len(sorted)-1],
		Avg: sum / float64(len(sorted)),
		P50: percentile(sorted, 50),
		P95: percentile(sorted, 95),
		P99: percentile(sorted, 99),
	}
}

func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	if len(sorted) == 1 {
		return sorted[0]
	}

	rank := (p / 100.0) * float64(len(sorted)-1)
	lower := int(math.Floor(rank))
	upper := int(math.Ceil(rank))
	if lower == upper {
		return sorted[lower]
	}

	weight := rank - float64(lower)
	return sorted[lower] + (sorted[upper]-sorted[lower])*weight
}

func ratio(failed, total int64) float64 {
	if total <= 0 {
		return 0
	}
	return float64(failed) / float64(total)
}
