package radarsensor

// AllowedCommands is the allow-list of two-character OPS243 UART commands
// that Reader.SendCommand will forward to the device. Anything outside
// this set is rejected before it reaches the serial port. Only
// Reader.SendCommand checks it: the /debug/ send-command form mounted by
// serialmux.SerialMux.AttachAdminRoutes and Initialize's startup sequence
// both write to the multiplexer directly and bypass this list.
var AllowedCommands = []string{
	"??", // Query overall module information
	"?R", // Read Reset Reason
	"?Z", // Read Speed Resolution
	"?z", // Read Range Resolution
	"?P", // Read Sensor Part Number
	"?N", // Read Serial Number
	"?D", // Read Build Date
	"L?", // Read Sensor Label
	"?V", // Read Firmware Version
	"?B", // Read Firmware Build Number

	// Speed and Range Units
	"U?", // Query current speed (velocity) units
	"UC", // Set units to centimeters per second
	"UF", // Set units to feet per second
	"UK", // Set units to kilometers per hour
	"UM", // Set units to meters per second
	"US", // Set units to miles per hour
	"u?", // Query current range units
	"uM", // Set range units to meters
	"uC", // Set range units to centimeters
	"uF", // Set range units to feet
	"uI", // Set range units to inches
	"uY", // Set range units to yards

	// Data Precision
	"F?", // Query the current decimal precision setting

	// Sampling Rate and Buffer Size
	"SI", // Set sampling rate to 1K samples/second
	"SV", // Set sampling rate to 5K samples/second
	"SX", // Set sampling rate to 10K samples/second (also "S1")
	"S2", // Set sampling rate to 20K samples/second
	"SL", // Set sampling rate to 50K samples/second
	"SC", // Set sampling rate to 100K samples/second
	"S>", // Set buffer size to 1024 samples
	"S<", // Set buffer size to 512 samples
	"S[", // Set buffer size to 256 samples
	"S(", // Set buffer size to 128 samples

	// Speed/Range Resolution Control
	"X1", // Resolution control: X1 (default)
	"X2", // Resolution control: X2
	"X4", // Resolution control: X4
	"X8", // Resolution control: X8

	// Filtering & Direction
	"R?", // Query current speed filter settings
	"r?", // Query current range filter settings
	"R+", // Set to report inbound direction only
	"R-", // Set to report outbound direction only
	"R|", // Clear any directional filtering

	// Peak Speed Averaging
	"K+", // Enable peak speed averaging
	"K-", // Disable peak speed averaging

	// Data Output Settings
	"O?", // Query output settings
	"OS", // Enable speed reporting
	"Os", // Disable speed reporting
	"OD", // Enable range reporting
	"Od", // Disable range reporting
	"OJ", // Enable JSON output
	"OM", // Enable magnitude reporting (Doppler)
	"Om", // Disable magnitude reporting (Doppler)
	"oM", // Enable magnitude reporting (FMCW)
	"om", // Disable magnitude reporting (FMCW)
	"OH", // Enable human-readable timestamp w/ event
	"OC", // Enable object detection
	"OU", // Enable units reporting with each data output
	"Ou", // Disable units reporting with each data output

	// UART Interface Control
	"I?", // Query current baud rate
	"I1", // Set baud rate to 9,600
	"I2", // Set baud rate to 19,200 (default)
	"I3", // Set baud rate to 57,600
	"I4", // Set baud rate to 115,200

	// Alerts & Averaging
	"Y?", // Query alert and averaging settings (speed alerts for OPS243-A)
	"Y+", // Enable speed averaging (Doppler)
	"Y-", // Disable speed averaging (Doppler)

	// Persistent Memory
	"A!", // Save current configuration to persistent memory
	"A?", // Query persistent memory settings
	"A.", // Read current settings from persistent memory
	"AX", // Reset flash settings to factory defaults
}
