/*
Package ledger implements the coordination ledger of a federated-learning incentive scheme.

Participants register with a stake and receive an initial reputation. The operator starts
training rounds once enough participants are registered. During a round every participant
may commit one model update hash; each accepted update raises the submitter's reputation
and credits a reward scaled by the reputation tier. The operator closes the round by
recording the aggregated model hash, after which participants may withdraw their
accumulated rewards at any time.

The ledger neither computes nor verifies the hashes it stores, and claimed rewards are
only returned to the caller: moving value is left to a settlement collaborator.

All state lives in a single LevelDB database and every operation commits as one batch.
*/
package ledger
