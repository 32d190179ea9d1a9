// Package camerasensor implements the CameraReader of spec section 4.3:
// it consumes AI detection batches from an external on-device inference
// process, filters by region of interest and vehicle class, and
// publishes a classification summary plus a rolling "latest" snapshot.
//
// No pack repo covers camera ingestion directly; this module is
// grounded on the structural shape of internal/radarsensor (ingest ->
// filter -> publish -> snapshot) and on original_source's vehicle
// detection ROI-containment check and vehicle-class taxonomy.
package camerasensor

// BoundingBox is a detection's box in pixel space: [x1, y1, x2, y2].
type BoundingBox [4]float64

// ROI is a region of interest expressed as fractions of the image
// frame, per spec section 4.3.
type ROI struct {
	XStart, XEnd float64
	YStart, YEnd float64
}

// DefaultROI keeps the full frame in play.
func DefaultROI() ROI {
	return ROI{XStart: 0, XEnd: 1, YStart: 0, YEnd: 1}
}

// Contains reports whether box's center, expressed as a fraction of an
// imageWidth x imageHeight frame, falls inside the ROI.
func (r ROI) Contains(box BoundingBox, imageWidth, imageHeight float64) bool {
	if imageWidth <= 0 || imageHeight <= 0 {
		return false
	}
	centerX := (box[0] + box[2]) / 2 / imageWidth
	centerY := (box[1] + box[3]) / 2 / imageHeight
	return centerX >= r.XStart && centerX <= r.XEnd && centerY >= r.YStart && centerY <= r.YEnd
}

// VehicleClass is the closed taxonomy spec section 3 defines for
// primary_vehicle_type.
type VehicleClass string

const (
	ClassCar        VehicleClass = "car"
	ClassTruck      VehicleClass = "truck"
	ClassMotorcycle VehicleClass = "motorcycle"
	ClassBus        VehicleClass = "bus"
	ClassUnknown    VehicleClass = "unknown"
)

// DefaultVehicleClasses is the whitelist applied after ROI filtering.
func DefaultVehicleClasses() []string {
	return []string{string(ClassCar), string(ClassTruck), string(ClassMotorcycle), string(ClassBus)}
}

func isWhitelisted(class string, whitelist []string) bool {
	for _, w := range whitelist {
		if w == class {
			return true
		}
	}
	return false
}
