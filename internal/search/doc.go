// Package search compiles quicksearch expressions: whitespace separated
// free-text terms, double-quoted phrases, "-term" or "term!" exclusions and
// field comparisons such as age>30 or role:manager.
package search
