// Package notifier delivers alert and recovery messages to chat recipients.
//
// Enqueue appends to an unbounded in-memory FIFO and never blocks. A pool of
// workers drains the FIFO. Each item is passed through a per-recipient spacing
// gate and then sent through the transport. A failed send is retried with
// exponential backoff plus jitter, or the server-requested delay when that is
// longer. After MaxAttempts failures the item is dropped.
//
// Producers never see delivery failures; outcomes are observable only through
// Stats (sent, failed, dropped).
//
// # Ordering
//
// Any worker may pick up any item, so per-recipient order is best-effort when
// more than one worker is running.
//
// # Shutdown
//
// Stop cancels workers, including ones sleeping in a gate or backoff wait.
// Items still pending in the FIFO are counted as dropped. An item that was
// mid-delivery at that moment may be neither sent nor counted.
package notifier
