package runner

// Version is the tool version stamped into reports and CLI output.
const Version = "0.2.0"
