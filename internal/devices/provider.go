package devices

import (
	"context"

	"github.com/skypro1111/gemini-live-service/internal/capture"
)

// Provider opens the UDP microphone and snapshot camera bridges
type Provider struct {
	Microphone UDPMicrophoneOptions
	Camera     SnapshotCameraOptions
}

var _ capture.DeviceProvider = (*Provider)(nil)

// OpenMicrophone starts the UDP listener and waits for the capture agent
func (p *Provider) OpenMicrophone(ctx context.Context) (capture.Microphone, error) {
	mic, err := OpenUDPMicrophone(ctx, p.Microphone)
	if err != nil {
		return nil, err
	}
	return mic, nil
}

// OpenCamera probes the snapshot URL
func (p *Provider) OpenCamera(ctx context.Context) (capture.Camera, error) {
	cam, err := OpenSnapshotCamera(ctx, p.Camera)
	if err != nil {
		return nil, err
	}
	return cam, nil
}
