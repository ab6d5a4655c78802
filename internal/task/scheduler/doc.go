// Package scheduler turns cron and interval specs into task engine
// submissions. It only computes trigger times; batches run on the engine.
package scheduler
