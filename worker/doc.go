// Package worker executes scheduled jobs on a fixed-size pool.
//
// A single dispatcher takes a pool slot before asking the scheduler for the
// next job, so no more jobs are active than there are executors. Each
// executor runs the pipeline and reports the result back to the scheduler.
package worker
