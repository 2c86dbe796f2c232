package internal

// Version is reported in the startup log and by --version.
const Version = "1.0.0"
