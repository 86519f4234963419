//go:build integration

package datastore

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcmysql "github.com/testcontainers/testcontainers-go/modules/mysql"

	"github.com/gaia-review/gaia/internal/conf"
	"github.com/gaia-review/gaia/internal/datastore/entities"
)

// setupMySQLStore starts a MySQL container and returns a migrated store.
func setupMySQLStore(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()

	container, err := tcmysql.Run(ctx, "mysql:8.0.36",
		tcmysql.WithDatabase("gaia"),
		tcmysql.WithUsername("gaia"),
		tcmysql.WithPassword("gaia"),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = testcontainers.TerminateContainer(container)
	})

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "3306/tcp")
	require.NoError(t, err)

	store, err := Open(&conf.DatabaseSettings{
		Type: "mysql",
		MySQL: conf.MySQLSettings{
			Host:     host,
			Port:     port.Int(),
			Username: "gaia",
			Password: "gaia",
			Database: "gaia",
		},
		MaxOpenConns: 20,
	}, WithLogger(testLogger()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	require.NoError(t, store.Migrate(ctx))
	require.NoError(t, store.Seed(ctx))
	return store
}

func TestMySQLConcurrentLocking(t *testing.T) {
	store := setupMySQLStore(t)
	ctx := context.Background()
	pois := createPOIs(t, store, "104001", 1, 10)

	const reviewers = 10
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		held = map[uint]string{}
	)
	for i := range reviewers {
		wg.Add(1)
		go func(reviewer string) {
			defer wg.Done()
			q := CandidateQuery{ReviewerID: reviewer, ProjectID: 1, Quorum: 3}
			candidates, err := store.POIs().Candidates(ctx, q)
			if !assert.NoError(t, err) {
				return
			}
			for i := range candidates {
				if err := store.POIs().TryLock(ctx, candidates[i].ID, q); err == nil {
					mu.Lock()
					_, taken := held[candidates[i].ID]
					assert.False(t, taken, "poi %d handed out twice", candidates[i].ID)
					held[candidates[i].ID] = reviewer
					mu.Unlock()
					return
				}
			}
		}(fmt.Sprintf("reviewer-%d", i))
	}
	wg.Wait()

	assert.Len(t, held, len(pois))
}

func TestMySQLDuplicateAnnotation(t *testing.T) {
	store := setupMySQLStore(t)
	poi := createPOIs(t, store, "104001", 1, 1)[0]

	annotate(t, store, poi.ID, "alice", "whale")
	err := store.POIs().CreateAnnotation(context.Background(), &entities.Annotation{
		POIID: poi.ID, ReviewerID: "alice", Classification: "bird",
	})
	require.ErrorIs(t, err, ErrDuplicateAnnotation)

	released, err := store.POIs().ReleaseStaleLocks(context.Background(), time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Zero(t, released)
}
