package core

// Version is the server version reported in metrics.
const Version = "2.0.0"
