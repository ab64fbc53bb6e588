package idgen

import (
	"strings"
	"sync"
	"testing"
)

func TestNewSnowflake_WorkerIDRange(t *testing.T) {
	tests := []struct {
		workerID int64
		wantErr  bool
	}{
		{workerID: 0},
		{workerID: 1023},
		{workerID: -1, wantErr: true},
		{workerID: 1024, wantErr: true},
	}
	for _, tt := range tests {
		_, err := NewSnowflake(tt.workerID)
		if (err != nil) != tt.wantErr {
			t.Errorf("NewSnowflake(%d) error = %v, wantErr %v", tt.workerID, err, tt.wantErr)
		}
	}
}

func TestSnowflake_Monotonic(t *testing.T) {
	s, err := NewSnowflake(3)
	if err != nil {
		t.Fatal(err)
	}
	prev := s.Generate()
	for i := 0; i < 10000; i++ {
		id := s.Generate()
		if id <= prev {
			t.Fatalf("Generate() = %d after %d, want increasing", id, prev)
		}
		prev = id
	}
}

func TestGenerateTransactionNo_UniqueUnderConcurrency(t *testing.T) {
	const goroutines, perGoroutine = 8, 2000

	var (
		mu   sync.Mutex
		seen = make(map[string]struct{}, goroutines*perGoroutine)
		wg   sync.WaitGroup
	)
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			local := make([]string, 0, perGoroutine)
			for i := 0; i < perGoroutine; i++ {
				local = append(local, GenerateTransactionNo())
			}
			mu.Lock()
			for _, no := range local {
				seen[no] = struct{}{}
			}
			mu.Unlock()
		}()
	}
	wg.Wait()

	if len(seen) != goroutines*perGoroutine {
		t.Errorf("unique transaction numbers = %d, want %d", len(seen), goroutines*perGoroutine)
	}
	for no := range seen {
		if !strings.HasPrefix(no, "TXN") || len(no) > 64 {
			t.Fatalf("malformed transaction number %q", no)
		}
		break
	}
}
