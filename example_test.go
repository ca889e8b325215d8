package sparsego_test

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/hupe1980/sparsego"
	"github.com/hupe1980/sparsego/blobstore"
)

func Example() {
	dir, err := os.MkdirTemp("", "sparsego-example")
	if err != nil {
		log.Fatal(err)
	}
	defer os.RemoveAll(dir)

	db, err := sparsego.Open(dir)
	if err != nil {
		log.Fatal(err)
	}
	defer db.Close()

	ctx := context.Background()

	docs := []map[uint32]float32{
		{10: 1, 20: 2},
		{10: 0.5, 30: 1},
		{40: 1},
	}
	for _, d := range docs {
		v, err := sparsego.NewSparseVector(d)
		if err != nil {
			log.Fatal(err)
		}
		if _, err := db.Insert(ctx, v); err != nil {
			log.Fatal(err)
		}
	}

	query, _ := sparsego.NewSparseVector(map[uint32]float32{10: 1, 20: 1})
	results, err := db.Search(ctx, query, 10)
	if err != nil {
		log.Fatal(err)
	}
	for _, r := range results {
		fmt.Printf("id=%d score=%.2f\n", r.ID, r.Score)
	}
	// Output:
	// id=0 score=3.00
	// id=1 score=0.50
}

func ExampleDB_Delete() {
	dir, err := os.MkdirTemp("", "sparsego-example")
	if err != nil {
		log.Fatal(err)
	}
	defer os.RemoveAll(dir)

	db, err := sparsego.Open(dir, sparsego.WithBackgroundCompaction(false))
	if err != nil {
		log.Fatal(err)
	}
	defer db.Close()

	ctx := context.Background()
	v, _ := sparsego.NewSparseVector(map[uint32]float32{1: 1})
	a, _ := db.Insert(ctx, v)
	b, _ := db.Insert(ctx, v)

	if err := db.Flush(ctx); err != nil {
		log.Fatal(err)
	}
	if err := db.Delete(ctx, a); err != nil {
		log.Fatal(err)
	}

	results, _ := db.Search(ctx, v, 10)
	fmt.Println(len(results), results[0].ID == b)

	if err := db.Compact(ctx); err != nil {
		log.Fatal(err)
	}
	st, _ := db.Stats()
	fmt.Println(st.Segments, st.LivePoints)
	// Output:
	// 1 true
	// 1 1
}

func ExampleDB_ExportSnapshot() {
	dir, err := os.MkdirTemp("", "sparsego-example")
	if err != nil {
		log.Fatal(err)
	}
	defer os.RemoveAll(dir)

	db, err := sparsego.Open(dir+"/src", sparsego.WithBackgroundCompaction(false))
	if err != nil {
		log.Fatal(err)
	}
	defer db.Close()

	ctx := context.Background()
	v, _ := sparsego.NewSparseVector(map[uint32]float32{7: 0.5, 9: 1})
	if _, err := db.Insert(ctx, v); err != nil {
		log.Fatal(err)
	}

	store := blobstore.NewMemoryStore()
	if _, err := db.ExportSnapshot(ctx, store, sparsego.WithSnapshotCompression(sparsego.CompressionZSTD)); err != nil {
		log.Fatal(err)
	}

	restored, err := sparsego.ImportSnapshot(ctx, store, dir+"/dst", sparsego.WithBackgroundCompaction(false))
	if err != nil {
		log.Fatal(err)
	}
	defer restored.Close()

	query, _ := sparsego.NewSparseVector(map[uint32]float32{9: 2})
	results, _ := restored.Search(ctx, query, 1)
	fmt.Printf("id=%d score=%.1f\n", results[0].ID, results[0].Score)
	// Output: id=0 score=2.0
}
