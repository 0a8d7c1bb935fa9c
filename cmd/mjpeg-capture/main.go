// mjpeg-capture pulls single JPEG frames out of an MJPEG-over-HTTP camera.
//
// Usage:
//
//	# Save five snapshots one second apart
//	mjpeg-capture snapshot --url http://192.168.1.50/video.mjpg --count 5 --output ./frames
//
//	# Measure source FPS stability
//	mjpeg-capture warmup --url http://admin@192.168.1.50/video.mjpg --duration 5s
//
//	# Serve snapshots, stats and Prometheus metrics over HTTP
//	mjpeg-capture serve --url http://192.168.1.50/video.mjpg --listen :8080
//
//	# Show version information
//	mjpeg-capture version
//
// The password for Basic authentication may be given with --password or the
// MJPEG_PASSWORD environment variable.
package main

func main() {
	Execute()
}
