package capture

import (
	"context"
	"errors"
	"testing"
)

type fakeProvider struct {
	mic    *fakeMic
	cam    *fakeCamera
	micErr error
	camErr error
}

func (p *fakeProvider) OpenMicrophone(context.Context) (Microphone, error) {
	if p.micErr != nil {
		return nil, p.micErr
	}
	return p.mic, nil
}

func (p *fakeProvider) OpenCamera(context.Context) (Camera, error) {
	if p.camErr != nil {
		return nil, p.camErr
	}
	return p.cam, nil
}

func TestAcquire(t *testing.T) {
	denied := errors.New("permission denied")

	tests := []struct {
		name       string
		provider   *fakeProvider
		camera     bool
		wantDevice string
		wantCamera bool
	}{
		{
			name:     "microphone only",
			provider: &fakeProvider{mic: newFakeMic(), cam: &fakeCamera{}},
		},
		{
			name:       "microphone and camera",
			provider:   &fakeProvider{mic: newFakeMic(), cam: &fakeCamera{}},
			camera:     true,
			wantCamera: true,
		},
		{
			name:       "microphone denied",
			provider:   &fakeProvider{micErr: denied},
			camera:     true,
			wantDevice: "microphone",
		},
		{
			name:       "camera denied",
			provider:   &fakeProvider{mic: newFakeMic(), camErr: denied},
			camera:     true,
			wantDevice: "camera",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			devices, err := Acquire(context.Background(), tt.provider, tt.camera)

			if tt.wantDevice != "" {
				if !errors.Is(err, ErrDeviceAcquisition) {
					t.Fatalf("Expected ErrDeviceAcquisition, got %v", err)
				}
				if !errors.Is(err, denied) {
					t.Errorf("Expected cause to be preserved, got %v", err)
				}
				var acqErr *DeviceAcquisitionError
				if !errors.As(err, &acqErr) || acqErr.Device != tt.wantDevice {
					t.Errorf("Expected device %q, got %v", tt.wantDevice, err)
				}
				if tt.provider.mic != nil && !tt.provider.mic.closed.Load() {
					t.Error("partially acquired microphone not released")
				}
				return
			}

			if err != nil {
				t.Fatalf("Acquire() error: %v", err)
			}
			if (devices.Camera != nil) != tt.wantCamera {
				t.Errorf("Expected camera=%v", tt.wantCamera)
			}
			if err := devices.Close(); err != nil {
				t.Errorf("Close() error: %v", err)
			}
		})
	}
}

func TestAcquire_NoProvider(t *testing.T) {
	if _, err := Acquire(context.Background(), nil, false); !errors.Is(err, ErrDeviceAcquisition) {
		t.Errorf("Expected ErrDeviceAcquisition, got %v", err)
	}
}
