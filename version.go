package mediarx

const Version = "0.1.0"
