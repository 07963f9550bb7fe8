package capture

import (
	"context"
	"errors"
	"fmt"
	"image"
)

// ErrDeviceAcquisition is the sentinel matched by every DeviceAcquisitionError
var ErrDeviceAcquisition = errors.New("device acquisition failed")

// DeviceAcquisitionError reports that a capture device could not be opened
type DeviceAcquisitionError struct {
	Device string // "microphone" or "camera"
	Err    error
}

func (e *DeviceAcquisitionError) Error() string {
	return fmt.Sprintf("failed to acquire %s: %v", e.Device, e.Err)
}

func (e *DeviceAcquisitionError) Unwrap() error {
	return e.Err
}

// Is lets errors.Is match ErrDeviceAcquisition
func (e *DeviceAcquisitionError) Is(target error) bool {
	return target == ErrDeviceAcquisition
}

// Microphone yields fixed-size frames of mono samples in [-1,1]
type Microphone interface {
	// ReadFrame blocks until a full frame is available or ctx is done
	ReadFrame(ctx context.Context) ([]float32, error)
	Close() error
}

// Camera captures one still frame per call
type Camera interface {
	Capture(ctx context.Context) (image.Image, error)
	Close() error
}

// DeviceProvider opens capture devices
type DeviceProvider interface {
	OpenMicrophone(ctx context.Context) (Microphone, error)
	OpenCamera(ctx context.Context) (Camera, error)
}

// Devices holds the acquired capture devices. Camera is nil when video
// capture is disabled.
type Devices struct {
	Microphone Microphone
	Camera     Camera
}

// Acquire opens the microphone and, when camera is true, the camera. On any
// failure the devices already opened are released and a
// *DeviceAcquisitionError is returned.
func Acquire(ctx context.Context, provider DeviceProvider, camera bool) (*Devices, error) {
	if provider == nil {
		return nil, &DeviceAcquisitionError{Device: "microphone", Err: errors.New("no device provider configured")}
	}

	mic, err := provider.OpenMicrophone(ctx)
	if err != nil {
		return nil, &DeviceAcquisitionError{Device: "microphone", Err: err}
	}

	devices := &Devices{Microphone: mic}
	if !camera {
		return devices, nil
	}

	cam, err := provider.OpenCamera(ctx)
	if err != nil {
		_ = devices.Close()
		return nil, &DeviceAcquisitionError{Device: "camera", Err: err}
	}
	devices.Camera = cam

	return devices, nil
}

// Close releases every acquired device
func (d *Devices) Close() error {
	if d == nil {
		return nil
	}

	var errs []error
	if d.Microphone != nil {
		if err := d.Microphone.Close(); err != nil {
			errs = append(errs, fmt.Errorf("microphone: %w", err))
		}
	}
	if d.Camera != nil {
		if err := d.Camera.Close(); err != nil {
			errs = append(errs, fmt.Errorf("camera: %w", err))
		}
	}
	return errors.Join(errs...)
}
