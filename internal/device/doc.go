// Package device provides the Device Registry: the home, controller and
// device graph that telemetry is attached to.
//
// Devices are identified by name. A device that reports telemetry before it
// has been registered is created on the spot (EnsureDevice) under the first
// home and a shared gateway controller, both of which are created too if
// needed. Provisioning is idempotent and safe under concurrent first contact.
//
//	registry := device.NewRegistry(device.NewSQLiteRepository(db), device.DefaultProvisioning())
//	if err := registry.RefreshCache(ctx); err != nil {
//	    return err
//	}
//	dev, err := registry.EnsureDevice(ctx, "esp32-1")
package device
