package toolchain

import "path/filepath"

// BasicMainTemplate is the starter program written by CreateBasicMain.
// It blinks the on-board LED and logs each transition over serial.
const BasicMainTemplate = `#include <Arduino.h>

// Basic ESP32 program
void setup() {
    Serial.begin(115200);
    pinMode(LED_BUILTIN, OUTPUT);
    Serial.println("ESP32 Remote Lab Device Started");
}

void loop() {
    digitalWrite(LED_BUILTIN, HIGH);
    Serial.println("LED ON");
    delay(1000);
    digitalWrite(LED_BUILTIN, LOW);
    Serial.println("LED OFF");
    delay(1000);
}
`

// SourceDir returns the project's source directory.
func SourceDir(projectPath string) string {
	return filepath.Join(projectPath, "src")
}

// MainFile returns the path CreateBasicMain writes to.
func MainFile(projectPath string) string {
	return filepath.Join(SourceDir(projectPath), "main.cpp")
}
