// Package dedupe remembers recently delivered dispatch events so that
// events replayed after a reconnect reach the handler only once.
package dedupe
