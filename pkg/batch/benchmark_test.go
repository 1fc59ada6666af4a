package batch

import (
	"context"
	"database/sql"
	"fmt"
	"testing"

	_ "github.com/mattn/go-sqlite3"

	"github.com/japaniel/occumatch/pkg/db"
	"github.com/japaniel/occumatch/pkg/posting"
)

func setupBenchmarkDB(b *testing.B) *sql.DB {
	conn, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		b.Fatalf("failed to open db: %v", err)
	}
	conn.SetMaxOpenConns(1)
	// Favour application throughput over durability.
	_, _ = conn.Exec("PRAGMA synchronous = OFF")
	_, _ = conn.Exec("PRAGMA journal_mode = MEMORY")

	if err := db.InitDB(conn); err != nil {
		b.Fatalf("failed to init db: %v", err)
	}
	return conn
}

var benchmarkTitles = []string{
	"Repositor", "Gerente de ventas", "Vendedora de comercio", "Operador de autoelevador",
	"Contador público", "Ejecutivo de ventas Jr.", "Auxiliar contable",
}

func seedBenchmark(b *testing.B, conn *sql.DB, n int) []string {
	ids := make([]string, 0, n)
	for i := 0; i < n; i++ {
		rec := posting.Record{
			Posting: posting.Posting{ID: fmt.Sprintf("bench-%d", i), Title: benchmarkTitles[i%len(benchmarkTitles)]},
			Attributes: &posting.Attributes{
				Tasks:      []string{"negociar contratos de venta", "controlar inventario"},
				SoftSkills: []string{"atención al cliente"},
			},
		}
		if err := db.SaveRecord(conn, rec); err != nil {
			b.Fatalf("SaveRecord failed: %v", err)
		}
		ids = append(ids, rec.Posting.ID)
	}
	return ids
}

func BenchmarkRun(b *testing.B) {
	s := testStrategy(b)

	for i := 0; i < b.N; i++ {
		b.StopTimer()
		conn := setupBenchmarkDB(b)
		ids := seedBenchmark(b, conn, 1000)

		r := NewRunner(conn, s, nil)
		r.Workers = 4
		r.BatchSize = 100
		b.StartTimer()

		sum, err := r.Run(context.Background(), ids)
		b.StopTimer()
		if err != nil || sum.Processed != len(ids) {
			conn.Close()
			b.Fatalf("Run = %+v, %v", sum, err)
		}
		conn.Close()
	}
}
