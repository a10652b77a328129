/*
Package dag indexes the ledger DAG.

Nodes are stored in a 256-ary prefix tree keyed by identifier bytes. A leaf
sits at the shallowest depth its identifier prefix is unique at and is pushed
down one level whenever another identifier collides with it.

A node may arrive before its parents. It is stored anyway, but is not
Resolved until every parent is present. The tree also keeps the reverse
edges (Dependents), the distinct acknowledgers of each transaction, and the
chain of genesis and checkpoint nodes in arrival order.
*/
package dag
