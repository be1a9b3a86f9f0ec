// Package firmware provides parsing for Pybricks firmware archives.
//
// # Archive Format
//
// A firmware archive is a zip file holding the firmware image for one hub
// model together with the metadata needed to install it:
//
//	firmware-base.bin       the firmware image
//	firmware.metadata.json  metadata document (schema 2.x)
//	ReadMe_OSS.txt          open source license text
//	main.mpy                optional user program to embed
//
// The metadata document declares the target hub type, the firmware version,
// the image size and checksum, and the offsets of the optional hub name and
// main program slots:
//
//	{
//	    "metadata-version": "2.0",
//	    "device-id": 128,
//	    "firmware-version": "3.2.0",
//	    "checksum-type": "crc32",
//	    "image-size": 131072,
//	    "image-checksum": 2864434397,
//	    "hub-name-offset": 512,
//	    "hub-name-size": 16
//	}
//
// # Usage
//
// Parse an archive from disk:
//
//	pkg, err := firmware.Parse("technichub-3.2.0.zip")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	fmt.Printf("Firmware: %s\n", pkg)
//	fmt.Printf("Image size: %d bytes\n", pkg.ImageSize())
//
// Optionally embed a hub name, then derive the write plan:
//
//	if err := pkg.SetHubName("Garage door hub"); err != nil {
//	    log.Fatal(err)
//	}
//	chunks, err := pkg.Chunks(32)
//
// # Validation
//
// Parsing fails fast, before any hub is touched:
//   - unreadable or incomplete archives (*CorruptArchiveError)
//   - missing metadata (*MissingMetadataError)
//   - metadata schema outside 2.x (*UnsupportedSchemaError)
//   - image bytes not matching the declared checksum (*ChecksumMismatchError)
//
// A package that parses is internally consistent; whether it fits a
// particular hub is checked against the hub's own report with
// HubTypeMatches and the flash bounds from the bootloader.
package firmware
