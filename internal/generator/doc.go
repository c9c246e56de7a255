// Package generator produces a subscriber's prompt collection through a
// text-generation service.
//
// Generation is batched: the service is asked for at most BatchSize items per
// call, model output is repaired into items with Repair, and the loop keeps
// going until the target count is reached or MaxAttempts calls have failed.
// A successful run replaces the subscriber's stored items wholesale and leaves
// the delivery cursor alone.
package generator
