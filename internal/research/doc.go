// Package research launches the external deep-research job for a claimed
// work item. The job is an external command that receives the escaped query
// as its final argument and, on success, writes a small JSON artifact
// containing the URL where the finished report will appear.
package research
