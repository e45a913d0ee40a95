package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"gitlab.com/polisuite/api/agency-crm-service/internal/model"
	"gitlab.com/polisuite/api/agency-crm-service/pkg/logger"
	"gitlab.com/polisuite/api/agency-crm-service/pkg/utils"
)

// ImportTask is one synthetic import job to run against the API.
type ImportTask struct {
	JobNumber int
	Rows      int
	ChunkSize int
}

// jobStats aggregates per-job outcomes across the worker pool.
type jobStats struct {
	mu        sync.Mutex
	completed int
	failed    int
	rowsOK    int
	rowsErr   int
	durations []time.Duration
}

func (s *jobStats) record(d time.Duration, result *model.ChunkResult, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.failed++
		return
	}
	s.completed++
	s.durations = append(s.durations, d)
	if result != nil {
		s.rowsOK += result.TotalSuccess
		s.rowsErr += result.TotalErrors
	}
}

func main() {
	var (
		target    = flag.String("target", "http://localhost:8080", "Base URL of the CRM API")
		token     = flag.String("token", "", "Bearer token for an authenticated session")
		jobs      = flag.Int("jobs", 4, "Number of concurrent import jobs")
		rows      = flag.Int("rows", 500, "Rows per generated CSV")
		chunkSize = flag.Int("chunk-size", 100, "Rows per chunk submission")
		workers   = flag.Int("workers", 4, "Worker pool size")
		dirtyPct  = flag.Int("dirty-pct", 5, "Percentage of generated rows with a blank email and phone")
	)
	flag.Parse()

	if err := logger.Initialize("info"); err != nil {
		fmt.Printf("Error initializing logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if *token == "" {
		logger.Log.Fatal("A session token is required (-token)")
	}

	gofakeit.Seed(time.Now().UnixNano())
	client := &apiClient{base: strings.TrimRight(*target, "/"), token: *token, http: &http.Client{Timeout: 60 * time.Second}}
	stats := &jobStats{}

	var wg sync.WaitGroup
	pool, err := ants.NewPoolWithFunc(*workers, func(payload interface{}) {
		defer wg.Done()
		task, ok := payload.(ImportTask)
		if !ok {
			logger.Log.Error("Invalid payload type in worker pool")
			return
		}
		start := time.Now()
		result, runErr := runImportJob(client, task, *dirtyPct)
		stats.record(time.Since(start), result, runErr)
		if runErr != nil {
			logger.Log.Error("Import job failed", zap.Int("job", task.JobNumber), zap.Error(runErr))
		}
	}, ants.WithPanicHandler(func(r interface{}) {
		logger.Log.Error("Panic in tester worker", zap.Any("panic", r), zap.Stack("stack"))
	}))
	if err != nil {
		logger.Log.Fatal("Failed to create worker pool", zap.Error(err))
	}
	defer pool.Release()

	logger.Log.Info("Starting import load run",
		zap.Int("jobs", *jobs), zap.Int("rows", *rows), zap.Int("chunkSize", *chunkSize))

	runStart := time.Now()
	for i := 0; i < *jobs; i++ {
		wg.Add(1)
		if err := pool.Invoke(ImportTask{JobNumber: i + 1, Rows: *rows, ChunkSize: *chunkSize}); err != nil {
			wg.Done()
			logger.Log.Error("Failed to submit task", zap.Int("job", i+1), zap.Error(err))
		}
	}
	wg.Wait()

	stats.mu.Lock()
	defer stats.mu.Unlock()
	var total, max time.Duration
	for _, d := range stats.durations {
		total += d
		if d > max {
			max = d
		}
	}
	var avg time.Duration
	if len(stats.durations) > 0 {
		avg = total / time.Duration(len(stats.durations))
	}
	logger.Log.Info("Import load run finished",
		zap.Duration("elapsed", time.Since(runStart)),
		zap.Int("completed", stats.completed),
		zap.Int("failed", stats.failed),
		zap.Int("rowsSucceeded", stats.rowsOK),
		zap.Int("rowsFailed", stats.rowsErr),
		zap.Duration("avgJobDuration", avg),
		zap.Duration("maxJobDuration", max))

	if stats.failed > 0 {
		os.Exit(1)
	}
}

// runImportJob creates one job and streams a generated CSV through the chunk
// endpoint, the way the web client would.
func runImportJob(client *apiClient, task ImportTask, dirtyPct int) (*model.ChunkResult, error) {
	header, lines := generateLeadCSV(task.Rows, dirtyPct)
	size := len(header)
	for _, line := range lines {
		size += len(line) + 1
	}
	logger.Log.Debug("Generated CSV",
		zap.Int("job", task.JobNumber), zap.Int("rows", len(lines)), zap.String("size", utils.ByteCountSI(size)))

	var created struct {
		Data model.ImportJob `json:"data"`
	}
	err := client.post("/api/v1/imports", map[string]string{
		"filename": fmt.Sprintf("load-%d.csv", task.JobNumber),
	}, &created)
	if err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}
	jobID := created.Data.ID

	mapping := map[string]string{
		"First Name": model.FieldFirstName,
		"Last Name":  model.FieldLastName,
		"Email":      model.FieldEmail,
		"Phone":      model.FieldPhone,
	}

	totalChunks := (len(lines) + task.ChunkSize - 1) / task.ChunkSize
	var last *model.ChunkResult
	for chunk := 0; chunk < totalChunks; chunk++ {
		end := (chunk + 1) * task.ChunkSize
		if end > len(lines) {
			end = len(lines)
		}
		csvData := header + "\n" + strings.Join(lines[chunk*task.ChunkSize:end], "\n")

		var resp struct {
			Data model.ChunkResult `json:"data"`
		}
		err := client.post(fmt.Sprintf("/api/v1/imports/%s/chunks", jobID), model.ChunkRequest{
			ImportJobID:    jobID,
			CsvData:        csvData,
			ColumnMappings: mapping,
			ChunkIndex:     chunk,
			TotalChunks:    totalChunks,
		}, &resp)
		if err != nil {
			return last, fmt.Errorf("chunk %d/%d: %w", chunk+1, totalChunks, err)
		}
		last = &resp.Data
	}

	if last == nil || !last.IsComplete {
		return last, fmt.Errorf("job %s did not complete", jobID)
	}
	return last, nil
}

// generateLeadCSV produces a header and data lines of fake leads. dirtyPct
// percent of the rows carry no email or phone so the server's failure path
// gets exercised too.
func generateLeadCSV(rows, dirtyPct int) (string, []string) {
	lines := make([]string, 0, rows)
	for i := 0; i < rows; i++ {
		if gofakeit.Number(1, 100) <= dirtyPct {
			lines = append(lines, fmt.Sprintf("%s,%s,,", gofakeit.FirstName(), gofakeit.LastName()))
			continue
		}
		lines = append(lines, fmt.Sprintf("%s,%s,%s,%s",
			gofakeit.FirstName(), gofakeit.LastName(), gofakeit.Email(), gofakeit.Phone()))
	}
	return "First Name,Last Name,Email,Phone", lines
}

type apiClient struct {
	base  string
	token string
	http  *http.Client
}

func (c *apiClient) post(path string, body interface{}, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequest(http.MethodPost, c.base+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if decodeErr := json.NewDecoder(resp.Body).Decode(&apiErr); decodeErr == nil && apiErr.Error.Code != "" {
			return fmt.Errorf("%s: %s (%s)", resp.Status, apiErr.Error.Message, apiErr.Error.Code)
		}
		return fmt.Errorf("unexpected status %s", resp.Status)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}
