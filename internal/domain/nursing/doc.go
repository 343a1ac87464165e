// Package nursing defines the NANDA/NOC/NIC nursing care-plan form, its
// field rules and the parity and target-monotonicity checks over the NOC
// indicator arrays.
package nursing
