// Package deliver sends finished report text to its destination thread,
// splitting oversized results into ordered chunks under the platform size
// ceiling. Chunks are sent sequentially with a small delay between them;
// a failed chunk is reported but earlier chunks are not rolled back.
package deliver
