// Package delivery sends each subscriber the next prompt of their rotation
// when their local clock reaches the configured delivery time.
//
// The Scheduler buckets subscribers by timezone label on every tick and
// fans out to the Executor, which owns the rotation cursor: it sends
// items[cursor mod len(items)] and advances the cursor only after the mail
// provider confirms the send.
package delivery
