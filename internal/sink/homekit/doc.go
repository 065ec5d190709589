// Package homekit exposes an air quality, humidity or temperature accessory
// over HomeKit. The accessory answers controller reads through the
// service getters and receives pushed readings as a weather.Sink.
package homekit
