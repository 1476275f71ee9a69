//go:build integration

package postgres

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"os"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
)

var testPool *pgxpool.Pool

// TestMain starts a throwaway Postgres container; set DEFECT_TEST_DATABASE_URL
// to run against an existing database instead.
func TestMain(m *testing.M) {
	ctx := context.Background()

	connStr := os.Getenv("DEFECT_TEST_DATABASE_URL")
	containerID := ""
	if connStr == "" {
		const (
			dbName     = "defects-test"
			dbUser     = "user"
			dbPassword = "password"
			dbPort     = "5432"
		)
		cmd := exec.Command("docker", "run", "-d", "--rm",
			"--network", "host",
			"-e", fmt.Sprintf("POSTGRES_DB=%s", dbName),
			"-e", fmt.Sprintf("POSTGRES_USER=%s", dbUser),
			"-e", fmt.Sprintf("POSTGRES_PASSWORD=%s", dbPassword),
			"postgres:14",
		)
		var out bytes.Buffer
		cmd.Stdout = &out
		if err := cmd.Run(); err != nil {
			log.Fatalf("could not start postgres container: %v. Is Docker running?", err)
		}
		containerID = strings.TrimSpace(out.String())[:12]
		connStr = fmt.Sprintf("postgres://%s:%s@localhost:%s/%s?sslmode=disable", dbUser, dbPassword, dbPort, dbName)
	}
	stop := func() {
		if containerID == "" {
			return
		}
		if err := exec.Command("docker", "stop", containerID).Run(); err != nil {
			log.Printf("could not stop postgres container %s: %v", containerID, err)
		}
	}

	var err error
	const maxRetries = 15
	for i := 0; i < maxRetries; i++ {
		testPool, err = pgxpool.Connect(ctx, connStr)
		if err == nil {
			if err = testPool.Ping(ctx); err == nil {
				break
			}
			testPool.Close()
		}
		log.Printf("waiting for database (attempt %d/%d)", i+1, maxRetries)
		time.Sleep(2 * time.Second)
	}
	if err != nil {
		stop()
		log.Fatalf("unable to connect to test database: %v", err)
	}

	if err := Migrate(ctx, testPool); err != nil {
		stop()
		log.Fatalf("could not apply schema: %v", err)
	}

	exitCode := m.Run()

	testPool.Close()
	stop()
	os.Exit(exitCode)
}

func cleanup(t *testing.T) {
	t.Helper()
	_, err := testPool.Exec(context.Background(),
		`TRUNCATE inspection_jobs, inspection_files, detections CASCADE`)
	if err != nil {
		t.Fatalf("failed to clean up database: %v", err)
	}
}
