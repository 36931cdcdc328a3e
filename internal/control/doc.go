// Package control holds the desired actuator state that devices poll for.
//
// Each device has exactly four controls, always reported in the order
// led1, led2, door_open, door_angle. The firmware locates values by text
// search on the serialised list, so the JSON shape of Entry must not change:
//
//	[{"control":"led1","value":true},{"control":"led2","value":false},...]
package control
