package audit

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"
)

// TransitionLog records one match or request state transition.
type TransitionLog struct {
	Timestamp time.Time
	RequestID string
	DonorID   string
	OldState  string
	NewState  string
	Endpoint  string
	Message   string
}

type PoolConfig struct {
	BatchSize   int
	Timeout     time.Duration
	ChannelSize int
}

type TransitionLogProcessor interface {
	Process(batch []TransitionLog) error
}

type DBProcessor struct {
	db *sql.DB
}

func NewDBProcessor(db *sql.DB) *DBProcessor {
	return &DBProcessor{db: db}
}

func (p *DBProcessor) Process(batch []TransitionLog) error {
	var sb strings.Builder
	sb.WriteString(`INSERT INTO audit_logs (timestamp, request_id, donor_id, old_state, new_state, endpoint, message) VALUES `)

	params := []interface{}{}
	paramIndex := 1
	for i, rec := range batch {
		if i > 0 {
			sb.WriteString(",")
		}
		sb.WriteString(fmt.Sprintf("($%d,$%d,$%d,$%d,$%d,$%d,$%d)",
			paramIndex, paramIndex+1, paramIndex+2, paramIndex+3, paramIndex+4, paramIndex+5, paramIndex+6))
		paramIndex += 7
		params = append(params, rec.Timestamp, rec.RequestID, rec.DonorID, rec.OldState, rec.NewState, rec.Endpoint, rec.Message)
	}
	_, err := p.db.Exec(sb.String(), params...)
	if err != nil {
		return fmt.Errorf("DBProcessor error: %w", err)
	}
	return nil
}

type StdoutProcessor struct {
	Filter string
}

func (p *StdoutProcessor) Process(batch []TransitionLog) error {
	for _, rec := range batch {
		if p.Filter != "" &&
			!strings.Contains(strings.ToLower(rec.Message), strings.ToLower(p.Filter)) {
			continue
		}
		fmt.Printf("AUDIT: %s | Request: %s | Donor: %s | %s -> %s | Msg: %s\n",
			rec.Timestamp.Format(time.RFC3339), rec.RequestID, rec.DonorID, rec.OldState, rec.NewState, rec.Message)
	}
	return nil
}

// WorkerPool batches transition logs off a buffered channel so audit writes
// never sit on the request path.
type WorkerPool struct {
	inputCh    chan TransitionLog
	processors []TransitionLogProcessor
	batchSize  int
	timeout    time.Duration

	wg sync.WaitGroup
}

func NewWorkerPool(cfg PoolConfig, processors ...TransitionLogProcessor) *WorkerPool {
	return &WorkerPool{
		inputCh:    make(chan TransitionLog, cfg.ChannelSize),
		processors: processors,
		batchSize:  cfg.BatchSize,
		timeout:    cfg.Timeout,
	}
}

func (p *WorkerPool) Start(numWorkers int, ctx context.Context) {
	for i := 0; i < numWorkers; i++ {
		p.wg.Add(1)
		go p.worker(ctx)
	}
}

func (p *WorkerPool) worker(ctx context.Context) {
	defer p.wg.Done()
	var batch []TransitionLog
	timer := time.NewTimer(p.timeout)
	for {
		select {
		case <-ctx.Done():
			if len(batch) > 0 {
				p.processBatch(batch)
			}
			return
		case rec := <-p.inputCh:
			batch = append(batch, rec)
			if len(batch) >= p.batchSize {
				if !timer.Stop() {
					<-timer.C
				}
				p.processBatch(batch)
				batch = nil
				timer.Reset(p.timeout)
			}
		case <-timer.C:
			if len(batch) > 0 {
				p.processBatch(batch)
				batch = nil
			}
			timer.Reset(p.timeout)
		}
	}
}

func (p *WorkerPool) processBatch(batch []TransitionLog) {
	for _, proc := range p.processors {
		if err := proc.Process(batch); err != nil {
			log.Printf("Error processing audit batch: %v", err)
		}
	}
}

func (p *WorkerPool) Log(record TransitionLog) {
	select {
	case p.inputCh <- record:
	default:
		log.Println("Audit log channel full, dropping record")
	}
}

func (p *WorkerPool) Shutdown(cancelFunc context.CancelFunc) {
	cancelFunc()
	p.wg.Wait()
}
