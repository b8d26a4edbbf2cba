package store_test

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/chicogong/affect/pkg/schemas"
	"github.com/chicogong/affect/pkg/store"
)

// Example_basic demonstrates basic store operations
func Example_basic() {
	s := store.NewMemoryStore()
	defer s.Close()

	ctx := context.Background()

	job := &store.Job{
		JobID:   "example-job-1",
		Created: time.Now(),
		Updated: time.Now(),
		Status:  schemas.JobStatePending,
		Spec: &store.JobSpec{
			Source: `affect video { input $input; resize 1280 auto; save $output }`,
			Items: []store.JobItem{
				{Input: "s3://bucket/a.mp4", Output: "s3://bucket/a-720.mp4"},
				{Input: "s3://bucket/b.mp4", Output: "s3://bucket/b-720.mp4"},
			},
			Parallel: true,
		},
	}

	if err := s.CreateJob(ctx, job); err != nil {
		log.Fatal(err)
	}

	retrieved, err := s.GetJob(ctx, job.JobID)
	if err != nil {
		log.Fatal(err)
	}

	fmt.Printf("Job ID: %s\n", retrieved.JobID)
	fmt.Printf("Status: %s\n", retrieved.Status)
	fmt.Printf("Items: %d\n", len(retrieved.Spec.Items))

	// Output:
	// Job ID: example-job-1
	// Status: pending
	// Items: 2
}

// Example_updateStatus demonstrates tracking a job through its lifecycle
func Example_updateStatus() {
	s := store.NewMemoryStore()
	defer s.Close()

	ctx := context.Background()
	_ = s.CreateJob(ctx, &store.Job{JobID: "job-2", Created: time.Now(), Status: schemas.JobStatePending})

	for i := 1; i <= 3; i++ {
		p := schemas.NewProgress(i, 3)
		_ = s.UpdateJobStatus(ctx, "job-2", schemas.JobStateRunning, &p)
	}
	_ = s.SetJobResults(ctx, "job-2", []schemas.ItemResult{
		{Input: "a.wav", Output: "a.mp3", Success: true},
		{Input: "b.wav", Output: "b.mp3", Success: true},
		{Input: "c.wav", Error: "no backend for audio input c.wav"},
	})
	_ = s.UpdateJobStatus(ctx, "job-2", schemas.JobStateCompleted, nil)

	job, _ := s.GetJob(ctx, "job-2")
	fmt.Printf("%s %d%% started=%v completed=%v results=%d\n",
		job.Status, job.Progress.Percent, job.StartedAt != nil, job.CompletedAt != nil, len(job.Results))

	// Output:
	// completed 100% started=true completed=true results=3
}

// Example_errorHandling demonstrates the sentinel errors
func Example_errorHandling() {
	s := store.NewMemoryStore()
	defer s.Close()

	_, err := s.GetJob(context.Background(), "missing")
	fmt.Println(err == store.ErrJobNotFound)

	// Output:
	// true
}
