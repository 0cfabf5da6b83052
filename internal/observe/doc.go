// Package observe provides the business boundary for mnemon's observation
// pipeline. It defines the Service (dedup, allow-listing, significance
// gating, fan-out, cluster assignment, transactional persistence,
// completion publishing), the Store interface, and the domain models.
package observe
