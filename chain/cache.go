package chain

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"sync"

	_ "modernc.org/sqlite"
)

// Cache memoizes resolved transactions in a per-backend SQLite file,
// `{backend}_memo.sqlite` under the cache directory. The file is read
// once at startup and written once at clean shutdown, so an aborted run
// can never corrupt it. In memory a single mutex guards the map; a miss
// is fetched by whichever caller observes it first, with at most one
// inflight request per txid.
type Cache struct {
	resolver Resolver
	path     string

	mu       sync.Mutex
	memo     map[string]*Tx
	dirty    map[string]*Tx
	inflight map[string]chan struct{}
}

// OpenCache loads the memo file for the resolver's backend, creating it
// on first use.
func OpenCache(dir string, resolver Resolver) (*Cache, error) {
	path := filepath.Join(dir, resolver.Name()+"_memo.sqlite")
	c := &Cache{
		resolver: resolver,
		path:     path,
		memo:     make(map[string]*Tx),
		dirty:    make(map[string]*Tx),
		inflight: make(map[string]chan struct{}),
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("memo cache %s: %w", path, err)
	}
	defer db.Close()
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS memo (txid TEXT PRIMARY KEY, tx TEXT NOT NULL)`); err != nil {
		return nil, fmt.Errorf("memo cache %s: %w", path, err)
	}
	rows, err := db.Query(`SELECT txid, tx FROM memo`)
	if err != nil {
		return nil, fmt.Errorf("memo cache %s: %w", path, err)
	}
	defer rows.Close()
	for rows.Next() {
		var txid, blob string
		if err := rows.Scan(&txid, &blob); err != nil {
			return nil, fmt.Errorf("memo cache %s: %w", path, err)
		}
		var tx Tx
		if err := json.Unmarshal([]byte(blob), &tx); err != nil {
			return nil, fmt.Errorf("memo cache %s: txid %s: %w", path, txid, err)
		}
		c.memo[txid] = &tx
	}
	return c, rows.Err()
}

func (c *Cache) Name() string { return c.resolver.Name() }

// Tx returns the memoized transaction, fetching on a miss. Concurrent
// callers of the same missing txid share one request.
func (c *Cache) Tx(ctx context.Context, txid string) (*Tx, error) {
	for {
		c.mu.Lock()
		if tx, ok := c.memo[txid]; ok {
			c.mu.Unlock()
			return tx, nil
		}
		if wait, ok := c.inflight[txid]; ok {
			c.mu.Unlock()
			select {
			case <-wait:
				continue // loser rechecks the memo
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		done := make(chan struct{})
		c.inflight[txid] = done
		c.mu.Unlock()

		tx, err := c.resolver.Tx(ctx, txid)

		c.mu.Lock()
		delete(c.inflight, txid)
		close(done)
		if err != nil {
			c.mu.Unlock()
			return nil, err
		}
		c.memo[txid] = tx
		c.dirty[txid] = tx
		c.mu.Unlock()
		return tx, nil
	}
}

// Flush writes newly fetched entries to the memo file. Called once at
// clean shutdown.
func (c *Cache) Flush() error {
	c.mu.Lock()
	pending := make(map[string]*Tx, len(c.dirty))
	for txid, tx := range c.dirty {
		pending[txid] = tx
	}
	c.mu.Unlock()
	if len(pending) == 0 {
		return nil
	}

	db, err := sql.Open("sqlite", c.path)
	if err != nil {
		return fmt.Errorf("memo cache %s: %w", c.path, err)
	}
	defer db.Close()

	sqlTx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("memo cache %s: %w", c.path, err)
	}
	txids := make([]string, 0, len(pending))
	for txid := range pending {
		txids = append(txids, txid)
	}
	sort.Strings(txids)
	for _, txid := range txids {
		blob, err := json.Marshal(pending[txid])
		if err != nil {
			sqlTx.Rollback()
			return fmt.Errorf("memo cache %s: txid %s: %w", c.path, txid, err)
		}
		if _, err := sqlTx.Exec(`INSERT OR REPLACE INTO memo (txid, tx) VALUES (?, ?)`, txid, string(blob)); err != nil {
			sqlTx.Rollback()
			return fmt.Errorf("memo cache %s: %w", c.path, err)
		}
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("memo cache %s: %w", c.path, err)
	}

	c.mu.Lock()
	for txid := range pending {
		delete(c.dirty, txid)
	}
	c.mu.Unlock()
	return nil
}

// ResolveAll fetches every txid with bounded parallelism and returns a
// deterministic in-memory map. One failure aborts the whole phase.
func ResolveAll(ctx context.Context, r Resolver, txids []string, parallelism int) (map[string]*Tx, error) {
	if parallelism < 1 {
		parallelism = 1
	}
	unique := make([]string, 0, len(txids))
	seen := make(map[string]bool, len(txids))
	for _, txid := range txids {
		if !seen[txid] {
			seen[txid] = true
			unique = append(unique, txid)
		}
	}
	sort.Strings(unique)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	type result struct {
		txid string
		tx   *Tx
		err  error
	}
	work := make(chan string)
	results := make(chan result)

	var wg sync.WaitGroup
	for i := 0; i < parallelism; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for txid := range work {
				tx, err := r.Tx(ctx, txid)
				select {
				case results <- result{txid: txid, tx: tx, err: err}:
				case <-ctx.Done():
					return
				}
			}
		}()
	}
	go func() {
		defer close(work)
		for _, txid := range unique {
			select {
			case work <- txid:
			case <-ctx.Done():
				return
			}
		}
	}()
	go func() {
		wg.Wait()
		close(results)
	}()

	out := make(map[string]*Tx, len(unique))
	for res := range results {
		if res.err != nil {
			cancel()
			// Drain so the workers can exit.
			for range results {
			}
			return nil, res.err
		}
		out[res.txid] = res.tx
	}
	return out, nil
}
